// Package manifest reads the showcase manifest: which packs exist, where
// their archives live, and how many slots are visible by default.
// Parsing is permissive: malformed entries are dropped, not fatal.
package manifest

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Visible-slot bounds. The stage always owns five slots; the manifest only
// chooses how many start visible.
const (
	MinVisible = 3
	MaxVisible = 5
)

// Kind values a manifest entry may declare.
const (
	KindModelWithClip = "model_with_clip"
	KindClipOnly      = "clip_only"
)

// Entry declares one downloadable pack.
type Entry struct {
	ID           string `yaml:"id" json:"id"`
	Label        string `yaml:"label" json:"label"`
	Kind         string `yaml:"kind" json:"kind"`
	FBXURL       string `yaml:"fbxUrl" json:"fbxUrl"`
	ThumbnailURL string `yaml:"thumbnailUrl,omitempty" json:"thumbnailUrl,omitempty"`
}

// Manifest is the parsed document.
type Manifest struct {
	DefaultVisibleCount int     `yaml:"defaultVisibleCount"`
	ModelPacks          []Entry `yaml:"modelPacks"`
	ClipPacks           []Entry `yaml:"clipPacks"`
}

type rawManifest struct {
	DefaultVisibleCount int         `yaml:"defaultVisibleCount"`
	ModelPacks          []yaml.Node `yaml:"modelPacks"`
	ClipPacks           []yaml.Node `yaml:"clipPacks"`
}

// Load reads and parses a manifest file. YAML and JSON both parse, JSON
// being a YAML subset.
func Load(path string, log *zap.Logger) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data, log)
}

// Parse decodes manifest bytes. Entries that fail to decode or miss
// required fields are dropped with a debug log line; the document itself
// must still be well-formed.
func Parse(data []byte, log *zap.Logger) (*Manifest, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	m := &Manifest{
		DefaultVisibleCount: clampVisible(raw.DefaultVisibleCount),
		ModelPacks:          decodeEntries(raw.ModelPacks, KindModelWithClip, log),
		ClipPacks:           decodeEntries(raw.ClipPacks, KindClipOnly, log),
	}
	return m, nil
}

func decodeEntries(nodes []yaml.Node, wantKind string, log *zap.Logger) []Entry {
	var entries []Entry
	for i, node := range nodes {
		var e Entry
		if err := node.Decode(&e); err != nil {
			log.Debug("dropping malformed manifest entry",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		if e.ID == "" || e.Label == "" || e.FBXURL == "" {
			log.Debug("dropping incomplete manifest entry",
				zap.Int("index", i), zap.String("id", e.ID))
			continue
		}
		if e.Kind == "" {
			e.Kind = wantKind
		}
		if e.Kind != KindModelWithClip && e.Kind != KindClipOnly {
			log.Debug("dropping manifest entry with unknown kind",
				zap.String("id", e.ID), zap.String("kind", e.Kind))
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func clampVisible(n int) int {
	if n < MinVisible {
		return MinVisible
	}
	if n > MaxVisible {
		return MaxVisible
	}
	return n
}
