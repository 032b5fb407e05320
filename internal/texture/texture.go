// Package texture validates and decodes texture members during archive
// ingestion. Decoding runs headless; the decoded dimensions annotate the
// pack, and the bytes stay with the archive member until the renderer asks
// for them.
package texture

import (
	"bytes"
	"fmt"
	"image"
	"path"
	"strings"

	// Registered decoders for the recognized texture extensions.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Info describes a successfully decoded texture.
type Info struct {
	Format string
	Width  int
	Height int
}

// Decode decodes texture bytes, picking the decoder by extension. TGA is
// handled by the local decoder since the registered image codecs don't
// cover it; everything else goes through image.Decode.
func Decode(name string, data []byte) (image.Image, Info, error) {
	if strings.EqualFold(path.Ext(name), ".tga") {
		img, err := DecodeTGA(data)
		if err != nil {
			return nil, Info{}, fmt.Errorf("decoding %s: %w", name, err)
		}
		b := img.Bounds()
		return img, Info{Format: "tga", Width: b.Dx(), Height: b.Dy()}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("decoding %s: %w", name, err)
	}
	b := img.Bounds()
	return img, Info{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Validate decodes just enough to confirm the bytes are a real texture.
func Validate(name string, data []byte) (Info, error) {
	if strings.EqualFold(path.Ext(name), ".tga") {
		img, err := DecodeTGA(data)
		if err != nil {
			return Info{}, fmt.Errorf("validating %s: %w", name, err)
		}
		b := img.Bounds()
		return Info{Format: "tga", Width: b.Dx(), Height: b.Dy()}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("validating %s: %w", name, err)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
