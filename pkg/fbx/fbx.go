// Package fbx reads binary FBX files: the container's node-record tree and
// a semantic pass that turns it into a runtime scene graph with skinning
// data, animation clips, and texture references.
package fbx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const headerMagic = "Kaydara FBX Binary  \x00"

// headerSize is magic (21) + reserved bytes 0x1A 0x00 (2) + version (4).
const headerSize = 27

// Versions 7500+ widen record header fields to 64 bits.
const bigHeaderVersion = 7500

// FBX format errors.
var (
	ErrInvalidMagic       = errors.New("invalid FBX magic: not a binary FBX file")
	ErrUnsupportedVersion = errors.New("unsupported FBX version")
	ErrTruncatedData      = errors.New("truncated FBX data")
)

// Property is one typed value in a node's property list.
type Property struct {
	// Type is the FBX type code: Y C I F D L S R f d l i b.
	Type byte

	Int    int64
	Float  float64
	Str    string
	Raw    []byte
	Ints   []int64
	Floats []float64
}

// Node is one record in the FBX tree.
type Node struct {
	Name     string
	Props    []Property
	Children []*Node
}

// Document is a parsed binary FBX file.
type Document struct {
	Version uint32
	Nodes   []*Node
}

// Parse reads the binary FBX container into a node tree. It validates the
// header magic and version but does not interpret object semantics; see
// Loader for that.
func Parse(data []byte) (*Document, error) {
	if len(data) < headerSize {
		return nil, ErrTruncatedData
	}
	if string(data[:len(headerMagic)]) != headerMagic {
		return nil, ErrInvalidMagic
	}

	version := binary.LittleEndian.Uint32(data[23:27])
	if version < 7100 || version > 7700 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	p := &parser{data: data, big: version >= bigHeaderVersion}
	doc := &Document{Version: version}

	offset := uint64(headerSize)
	for {
		if offset+uint64(p.recordHeaderSize()) > uint64(len(data)) {
			break
		}
		end, _, _, _, err := p.readRecordHeader(offset)
		if err != nil {
			return nil, err
		}
		if end == 0 {
			// Null record terminates the top-level list.
			break
		}
		node, next, err := p.parseNode(offset)
		if err != nil {
			return nil, err
		}
		doc.Nodes = append(doc.Nodes, node)
		offset = next
	}

	return doc, nil
}

// FindChild returns the first child with the given name, or nil.
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// PropInt returns the i-th property as an integer, or 0 when absent or
// non-numeric.
func (n *Node) PropInt(i int) int64 {
	if i >= len(n.Props) {
		return 0
	}
	p := n.Props[i]
	switch p.Type {
	case 'Y', 'I', 'L', 'C':
		return p.Int
	case 'F', 'D':
		return int64(p.Float)
	}
	return 0
}

// PropFloat returns the i-th property as a float, or 0.
func (n *Node) PropFloat(i int) float64 {
	if i >= len(n.Props) {
		return 0
	}
	p := n.Props[i]
	switch p.Type {
	case 'F', 'D':
		return p.Float
	case 'Y', 'I', 'L', 'C':
		return float64(p.Int)
	}
	return 0
}

// PropString returns the i-th property as a string, or "".
func (n *Node) PropString(i int) string {
	if i >= len(n.Props) || n.Props[i].Type != 'S' {
		return ""
	}
	return n.Props[i].Str
}

type parser struct {
	data []byte
	big  bool
}

func (p *parser) recordHeaderSize() int {
	if p.big {
		return 25
	}
	return 13
}

// readRecordHeader decodes the fixed-size record header at off.
func (p *parser) readRecordHeader(off uint64) (end, numProps, propListLen uint64, nameLen byte, err error) {
	d := p.data
	if p.big {
		if off+25 > uint64(len(d)) {
			return 0, 0, 0, 0, ErrTruncatedData
		}
		end = binary.LittleEndian.Uint64(d[off:])
		numProps = binary.LittleEndian.Uint64(d[off+8:])
		propListLen = binary.LittleEndian.Uint64(d[off+16:])
		nameLen = d[off+24]
		return end, numProps, propListLen, nameLen, nil
	}
	if off+13 > uint64(len(d)) {
		return 0, 0, 0, 0, ErrTruncatedData
	}
	end = uint64(binary.LittleEndian.Uint32(d[off:]))
	numProps = uint64(binary.LittleEndian.Uint32(d[off+4:]))
	propListLen = uint64(binary.LittleEndian.Uint32(d[off+8:]))
	nameLen = d[off+12]
	return end, numProps, propListLen, nameLen, nil
}

// parseNode parses the record at off and returns it plus the offset of the
// following record.
func (p *parser) parseNode(off uint64) (*Node, uint64, error) {
	end, numProps, propListLen, nameLen, err := p.readRecordHeader(off)
	if err != nil {
		return nil, 0, err
	}
	if end > uint64(len(p.data)) || end <= off {
		return nil, 0, ErrTruncatedData
	}

	pos := off + uint64(p.recordHeaderSize())
	if pos+uint64(nameLen) > end {
		return nil, 0, ErrTruncatedData
	}
	node := &Node{Name: string(p.data[pos : pos+uint64(nameLen)])}
	pos += uint64(nameLen)

	if pos+propListLen > end {
		return nil, 0, ErrTruncatedData
	}
	props, err := parseProperties(p.data[pos:pos+propListLen], int(numProps))
	if err != nil {
		return nil, 0, fmt.Errorf("node %q: %w", node.Name, err)
	}
	node.Props = props
	pos += propListLen

	// Remaining bytes up to end are child records plus a null sentinel.
	sentinel := uint64(p.recordHeaderSize())
	for pos < end {
		if pos+sentinel > end {
			return nil, 0, ErrTruncatedData
		}
		childEnd, _, _, childNameLen, err := p.readRecordHeader(pos)
		if err != nil {
			return nil, 0, err
		}
		if childEnd == 0 && childNameLen == 0 {
			pos += sentinel
			break
		}
		child, next, err := p.parseNode(pos)
		if err != nil {
			return nil, 0, err
		}
		node.Children = append(node.Children, child)
		pos = next
	}

	return node, end, nil
}

func parseProperties(data []byte, count int) ([]Property, error) {
	r := bytes.NewReader(data)
	props := make([]Property, 0, count)

	for i := 0; i < count; i++ {
		typeCode, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncatedData
		}

		prop := Property{Type: typeCode}
		switch typeCode {
		case 'Y':
			var v int16
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, ErrTruncatedData
			}
			prop.Int = int64(v)
		case 'C':
			b, err := r.ReadByte()
			if err != nil {
				return nil, ErrTruncatedData
			}
			prop.Int = int64(b & 1)
		case 'I':
			var v int32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, ErrTruncatedData
			}
			prop.Int = int64(v)
		case 'L':
			if err := binary.Read(r, binary.LittleEndian, &prop.Int); err != nil {
				return nil, ErrTruncatedData
			}
		case 'F':
			var v float32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, ErrTruncatedData
			}
			prop.Float = float64(v)
		case 'D':
			if err := binary.Read(r, binary.LittleEndian, &prop.Float); err != nil {
				return nil, ErrTruncatedData
			}
		case 'S', 'R':
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, ErrTruncatedData
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, ErrTruncatedData
			}
			if typeCode == 'S' {
				prop.Str = string(buf)
			} else {
				prop.Raw = buf
			}
		case 'f', 'd', 'l', 'i', 'b':
			if err := parseArrayProperty(r, &prop); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown property type %q", typeCode)
		}

		props = append(props, prop)
	}

	return props, nil
}

func parseArrayProperty(r *bytes.Reader, prop *Property) error {
	var count, encoding, byteLen uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return ErrTruncatedData
	}
	if err := binary.Read(r, binary.LittleEndian, &encoding); err != nil {
		return ErrTruncatedData
	}
	if err := binary.Read(r, binary.LittleEndian, &byteLen); err != nil {
		return ErrTruncatedData
	}

	raw := make([]byte, byteLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return ErrTruncatedData
	}

	elemSize := map[byte]int{'f': 4, 'd': 8, 'l': 8, 'i': 4, 'b': 1}[prop.Type]
	want := int(count) * elemSize

	var data []byte
	switch encoding {
	case 0:
		data = raw
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("array inflate: %w", err)
		}
		defer zr.Close()
		data = make([]byte, want)
		if _, err := io.ReadFull(zr, data); err != nil {
			return fmt.Errorf("array inflate: %w", err)
		}
	default:
		return fmt.Errorf("unknown array encoding %d", encoding)
	}

	if len(data) < want {
		return ErrTruncatedData
	}

	switch prop.Type {
	case 'f':
		prop.Floats = make([]float64, count)
		for i := range prop.Floats {
			bits := binary.LittleEndian.Uint32(data[i*4:])
			prop.Floats[i] = float64(math.Float32frombits(bits))
		}
	case 'd':
		prop.Floats = make([]float64, count)
		for i := range prop.Floats {
			bits := binary.LittleEndian.Uint64(data[i*8:])
			prop.Floats[i] = math.Float64frombits(bits)
		}
	case 'l':
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case 'i':
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case 'b':
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(data[i] & 1)
		}
	}

	return nil
}
