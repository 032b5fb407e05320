// Package archive ingests uploaded asset archives: a ZIP containing exactly
// one FBX model plus loose texture files. It extracts members into an
// in-memory substitution table and resolves the (frequently absolute or
// host-relative) texture paths baked into the model against that table.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	"github.com/modelrow/modelrow/pkg/pathkey"
	"github.com/modelrow/modelrow/pkg/sniff"
)

// HandlePrefix marks an already-resolved member reference. Resolve passes
// such references through untouched.
const HandlePrefix = "mem://"

// textureExts are the member extensions classified as textures.
var textureExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".bmp": true, ".tga": true, ".tif": true, ".tiff": true,
}

// modelExt is the extension of the primary mesh/skeleton member.
const modelExt = ".fbx"

// Archive validation errors.
var (
	ErrNotZip = errors.New("data is not a ZIP archive")
)

// Member is one extracted archive entry.
type Member struct {
	Name      string // name as stored in the archive
	Key       string // normalized lookup key
	IsTexture bool
	Handle    string // revocable in-memory handle
	Digest    string // blake3 content digest, hex

	bytes   []byte
	revoked bool
}

// Archive is a decompressed asset archive with its resolver table built.
type Archive struct {
	ModelName string // archive name of the primary .fbx member
	Members   []*Member

	table    map[string]*Member
	keys     []string // table keys in insertion order, for the fallback scan
	byHandle map[string]*Member

	releaseOnce sync.Once
}

// Open decompresses and validates an archive. The archive must contain
// exactly one .fbx member; texture members are classified by extension and
// every member, recognized or not, lands in the resolver table.
func Open(data []byte) (*Archive, error) {
	if !sniff.LooksLikeZip(data) {
		return nil, ErrNotZip
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	a := &Archive{
		table:    make(map[string]*Member),
		byHandle: make(map[string]*Member),
	}

	var modelCount int
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		digest := blake3.Sum256(content)
		m := &Member{
			Name:   f.Name,
			Key:    pathkey.Normalize(f.Name),
			Digest: fmt.Sprintf("%x", digest[:]),
			bytes:  content,
		}
		m.Handle = HandlePrefix + m.Digest[:16] + "/" + pathkey.Basename(m.Key)

		ext := strings.ToLower(path.Ext(m.Key))
		m.IsTexture = textureExts[ext]
		if ext == modelExt {
			modelCount++
			a.ModelName = f.Name
		}

		a.Members = append(a.Members, m)
		a.byHandle[m.Handle] = m
		a.register(m)
	}

	if modelCount == 0 {
		return nil, errors.New("archive is missing a .fbx model file")
	}
	if modelCount > 1 {
		return nil, fmt.Errorf("archive must contain exactly one .fbx model file, found %d", modelCount)
	}

	return a, nil
}

// register inserts a member into the table under its normalized name, its
// basename, and, for members under a <asset>.fbm/ subfolder, the remainder
// after the marker plus that remainder's basename. First registration wins
// so table contents stay deterministic.
func (a *Archive) register(m *Member) {
	add := func(key string) {
		if key == "" {
			return
		}
		if _, exists := a.table[key]; exists {
			return
		}
		a.table[key] = m
		a.keys = append(a.keys, key)
	}

	add(m.Key)
	add(pathkey.Basename(m.Key))
	if rest, ok := afterFBMMarker(m.Key); ok {
		add(rest)
		add(pathkey.Basename(rest))
	}
}

// ModelBytes returns the primary member's content.
func (a *Archive) ModelBytes() []byte {
	for _, m := range a.Members {
		if strings.ToLower(path.Ext(m.Key)) == modelExt {
			return m.bytes
		}
	}
	return nil
}

// Fetch returns the content behind a handle issued by this archive.
func (a *Archive) Fetch(handle string) ([]byte, error) {
	m, ok := a.byHandle[handle]
	if !ok {
		return nil, fmt.Errorf("unknown member handle %s", handle)
	}
	if m.revoked {
		return nil, fmt.Errorf("member handle %s has been revoked", handle)
	}
	return m.bytes, nil
}

// TextureFileNames lists the basenames of texture members, in archive order.
func (a *Archive) TextureFileNames() []string {
	var names []string
	for _, m := range a.Members {
		if m.IsTexture {
			names = append(names, path.Base(strings.ReplaceAll(m.Name, "\\", "/")))
		}
	}
	return names
}

// SizeBytes is the total decompressed size of all members.
func (a *Archive) SizeBytes() int64 {
	var total int64
	for _, m := range a.Members {
		total += int64(len(m.bytes))
	}
	return total
}

// Release revokes every member handle and drops the extracted bytes.
// Safe to call more than once; only the first call does anything.
func (a *Archive) Release() {
	a.releaseOnce.Do(func() {
		for _, m := range a.Members {
			m.revoked = true
			m.bytes = nil
		}
	})
}

// Resolve maps a texture reference authored inside the model file to a
// member handle. The matching is deliberately forgiving: full normalized
// path, then basename, then the remainder after a .fbm/ marker, then a
// last-resort scan for any table key whose final path segment equals the
// requested basename. Unmatched references come back unchanged so the
// caller's loader fails visibly on the literal path instead of silently.
//
// Known limitation: the final basename scan can pick the wrong member when
// unrelated archives register identical basenames under different paths.
// That precedence is part of the contract and must not be reordered.
func (a *Archive) Resolve(requested string) string {
	if strings.HasPrefix(requested, HandlePrefix) {
		return requested
	}

	cleaned := stripQueryFragment(requested)
	if decoded, err := url.QueryUnescape(cleaned); err == nil {
		cleaned = decoded
	}
	key := pathkey.Normalize(cleaned)

	candidates := []string{key, pathkey.Basename(key)}
	if rest, ok := afterFBMMarker(key); ok {
		candidates = append(candidates, rest, pathkey.Basename(rest))
	}

	for _, c := range candidates {
		if m, ok := a.table[c]; ok {
			return m.Handle
		}
	}

	base := pathkey.Basename(key)
	if base != "" {
		for _, k := range a.keys {
			if pathkey.Basename(k) == base {
				return a.table[k].Handle
			}
		}
	}

	return requested
}

// afterFBMMarker returns the path remainder following a "<name>.fbm/"
// folder, the convention FBX uses for co-located texture folders.
func afterFBMMarker(key string) (string, bool) {
	const marker = ".fbm/"
	if i := strings.Index(key, marker); i >= 0 {
		return key[i+len(marker):], true
	}
	return "", false
}

func stripQueryFragment(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
