// Package fbxtest synthesizes binary FBX documents and showcase archives
// for tests. It writes the wire format directly and knows nothing about
// the parser, so round trips through it exercise real decoding.
package fbxtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/klauspost/compress/zip"
)

// KTime is the FBX time unit count per second.
const KTime = 46186158000

// Prop is one record property to encode.
type Prop struct {
	Typ      byte
	I        int64
	F        float64
	S        string
	Floats   []float64
	Ints     []int64
	Compress bool
}

func PL(v int64) Prop           { return Prop{Typ: 'L', I: v} }
func PI(v int32) Prop           { return Prop{Typ: 'I', I: int64(v)} }
func PS(s string) Prop          { return Prop{Typ: 'S', S: s} }
func PD(f float64) Prop         { return Prop{Typ: 'D', F: f} }
func PArrD(v []float64) Prop    { return Prop{Typ: 'd', Floats: v} }
func PArrDZip(v []float64) Prop { return Prop{Typ: 'd', Floats: v, Compress: true} }
func PArrI(v []int64) Prop      { return Prop{Typ: 'i', Ints: v} }

func (p Prop) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(p.Typ)
	switch p.Typ {
	case 'L':
		binary.Write(&buf, binary.LittleEndian, p.I)
	case 'I':
		binary.Write(&buf, binary.LittleEndian, int32(p.I))
	case 'D':
		binary.Write(&buf, binary.LittleEndian, p.F)
	case 'S':
		binary.Write(&buf, binary.LittleEndian, uint32(len(p.S)))
		buf.WriteString(p.S)
	case 'd':
		raw := make([]byte, 8*len(p.Floats))
		for i, f := range p.Floats {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
		}
		writeArray(&buf, uint32(len(p.Floats)), raw, p.Compress)
	case 'i':
		raw := make([]byte, 4*len(p.Ints))
		for i, v := range p.Ints {
			binary.LittleEndian.PutUint32(raw[i*4:], uint32(int32(v)))
		}
		writeArray(&buf, uint32(len(p.Ints)), raw, p.Compress)
	default:
		panic("unsupported test property type")
	}
	return buf.Bytes()
}

func writeArray(buf *bytes.Buffer, count uint32, raw []byte, compress bool) {
	encoding := uint32(0)
	data := raw
	if compress {
		encoding = 1
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		zw.Write(raw)
		zw.Close()
		data = zbuf.Bytes()
	}
	binary.Write(buf, binary.LittleEndian, count)
	binary.Write(buf, binary.LittleEndian, encoding)
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}

// Node is one record to encode, children and all.
type Node struct {
	Name     string
	Props    []Prop
	Children []*Node
}

func (n *Node) propBytes() []byte {
	var buf bytes.Buffer
	for _, p := range n.Props {
		buf.Write(p.encode())
	}
	return buf.Bytes()
}

func (n *Node) size() int {
	s := 13 + len(n.Name) + len(n.propBytes())
	for _, c := range n.Children {
		s += c.size()
	}
	if len(n.Children) > 0 {
		s += 13 // null sentinel
	}
	return s
}

func (n *Node) emit(buf *bytes.Buffer, offset int) {
	end := offset + n.size()
	pb := n.propBytes()
	binary.Write(buf, binary.LittleEndian, uint32(end))
	binary.Write(buf, binary.LittleEndian, uint32(len(n.Props)))
	binary.Write(buf, binary.LittleEndian, uint32(len(pb)))
	buf.WriteByte(byte(len(n.Name)))
	buf.WriteString(n.Name)
	buf.Write(pb)

	pos := offset + 13 + len(n.Name) + len(pb)
	for _, c := range n.Children {
		c.emit(buf, pos)
		pos += c.size()
	}
	if len(n.Children) > 0 {
		buf.Write(make([]byte, 13))
	}
}

// Encode assembles a complete binary FBX document.
func Encode(version uint32, nodes ...*Node) []byte {
	var buf bytes.Buffer
	buf.WriteString("Kaydara FBX Binary  \x00")
	buf.WriteByte(0x1A)
	buf.WriteByte(0x00)
	binary.Write(&buf, binary.LittleEndian, version)

	pos := buf.Len()
	for _, n := range nodes {
		n.emit(&buf, pos)
		pos += n.size()
	}
	buf.Write(make([]byte, 13))
	return buf.Bytes()
}

// Typed joins an object name and class the way FBX stores them.
func Typed(name, class string) string {
	return name + "\x00\x01" + class
}

func boneChain(names []string, baseID int64) (nodes, conns []*Node) {
	for i, name := range names {
		id := baseID + int64(i)
		nodes = append(nodes, &Node{
			Name:  "Model",
			Props: []Prop{PL(id), PS(Typed(name, "Model")), PS("LimbNode")},
		})
		parent := int64(0)
		if i > 0 {
			parent = baseID + int64(i-1)
		}
		conns = append(conns, OO(id, parent))
	}
	return nodes, conns
}

func animStack(name string, id int64) (nodes, conns []*Node) {
	nodes = []*Node{
		{Name: "AnimationStack", Props: []Prop{PL(id), PS(Typed(name, "AnimStack")), PS("")}, Children: []*Node{
			{Name: "Properties70", Children: []*Node{
				{Name: "P", Props: []Prop{PS("LocalStop"), PS("KTime"), PS("Time"), PS(""), PL(2 * KTime)}},
			}},
		}},
		{Name: "AnimationLayer", Props: []Prop{PL(id + 1), PS(Typed("Base", "AnimLayer")), PS("")}},
		{Name: "AnimationCurveNode", Props: []Prop{PL(id + 2), PS(Typed("T", "AnimCurveNode")), PS("")}},
	}
	conns = []*Node{OO(id+1, id), OO(id+2, id+1)}
	return nodes, conns
}

// OO builds an object-object connection record.
func OO(src, dst int64) *Node {
	return &Node{Name: "C", Props: []Prop{PS("OO"), PL(src), PL(dst)}}
}

// OP builds an object-property connection record.
func OP(src, dst int64, prop string) *Node {
	return &Node{Name: "C", Props: []Prop{PS("OP"), PL(src), PL(dst), PS(prop)}}
}

// SkinnedModel builds a document with one skinned mesh bound to the named
// bones in that order, one two-second clip per name in clips, and an
// optional diffuse texture reference. The skeleton signature of the result
// is the lower-cased bone names joined by "|".
func SkinnedModel(bones, clips []string, textureRef string) []byte {
	verts := []float64{
		-1, 0, -1, 1, 0, -1, 1, 0, 1, -1, 0, 1,
		-1, 2, -1, 1, 2, -1, 1, 2, 1, -1, 2, 1,
	}

	objects := &Node{Name: "Objects", Children: []*Node{
		{Name: "Geometry", Props: []Prop{PL(100), PS(Typed("body", "Geometry")), PS("Mesh")}, Children: []*Node{
			{Name: "Vertices", Props: []Prop{PArrD(verts)}},
			{Name: "PolygonVertexIndex", Props: []Prop{PArrI([]int64{0, 1, 2, -4, 4, 5, 6, -8})}},
		}},
		{Name: "Model", Props: []Prop{PL(200), PS(Typed("Body", "Model")), PS("Mesh")}},
		{Name: "Deformer", Props: []Prop{PL(400), PS(Typed("", "Deformer")), PS("Skin")}},
		{Name: "Material", Props: []Prop{PL(500), PS(Typed("skin", "Material")), PS("")}, Children: []*Node{
			{Name: "ShadingModel", Props: []Prop{PS("Phong")}},
		}},
	}}
	connections := &Node{Name: "Connections", Children: []*Node{
		OO(200, 0), OO(100, 200), OO(400, 100), OO(500, 200),
	}}

	boneNodes, boneConns := boneChain(bones, 300)
	objects.Children = append(objects.Children, boneNodes...)
	connections.Children = append(connections.Children, boneConns...)

	for i := range bones {
		clusterID := int64(450 + i)
		objects.Children = append(objects.Children, &Node{
			Name:  "Deformer",
			Props: []Prop{PL(clusterID), PS(Typed("", "SubDeformer")), PS("Cluster")},
		})
		connections.Children = append(connections.Children,
			OO(clusterID, 400),
			OO(300+int64(i), clusterID))
	}

	if textureRef != "" {
		objects.Children = append(objects.Children, &Node{
			Name:  "Texture",
			Props: []Prop{PL(600), PS(Typed("diffuse", "Texture")), PS("")},
			Children: []*Node{
				{Name: "RelativeFilename", Props: []Prop{PS(textureRef)}},
			},
		})
		connections.Children = append(connections.Children, OP(600, 500, "DiffuseColor"))
	}

	for i, name := range clips {
		nodes, conns := animStack(name, int64(700+10*i))
		objects.Children = append(objects.Children, nodes...)
		connections.Children = append(connections.Children, conns...)
	}

	return Encode(7400, objects, connections)
}

// ClipOnly builds a document with loose bones and clips but no geometry.
// Its skeleton signature comes from traversal order of the bone chain.
func ClipOnly(bones, clips []string) []byte {
	objects := &Node{Name: "Objects"}
	connections := &Node{Name: "Connections"}

	boneNodes, boneConns := boneChain(bones, 300)
	objects.Children = append(objects.Children, boneNodes...)
	connections.Children = append(connections.Children, boneConns...)

	for i, name := range clips {
		nodes, conns := animStack(name, int64(700+10*i))
		objects.Children = append(objects.Children, nodes...)
		connections.Children = append(connections.Children, conns...)
	}

	return Encode(7400, objects, connections)
}

// Zip packs named files into an archive the ingestion pipeline accepts.
func Zip(t testing.TB, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// PNG returns a valid one-pixel PNG for texture members.
func PNG(t testing.TB) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 200, G: 180, B: 160, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

// ModelArchive is a ready-made model pack: a skinned mesh on the given
// bones, the given clips, and one texture the model references through an
// authoring-machine absolute path.
func ModelArchive(t testing.TB, bones, clips []string) []byte {
	t.Helper()
	doc := SkinnedModel(bones, clips, "C:\\work\\export.fbm\\body_diffuse.png")
	return Zip(t, map[string][]byte{
		"model.fbx":        doc,
		"body_diffuse.png": PNG(t),
	})
}

// ClipArchive is a ready-made clip pack targeting the given skeleton.
func ClipArchive(t testing.TB, bones, clips []string) []byte {
	t.Helper()
	return Zip(t, map[string][]byte{
		"clips.fbx": ClipOnly(bones, clips),
	})
}
