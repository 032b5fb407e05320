// Package slot binds packs to showcase slots. A slot displays one model
// pack at a time, owns a private clone of its graph, and mixes between
// the animation clips available to it: the model's own clips plus any
// attached compatible clip packs.
package slot

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/pack"
	"github.com/modelrow/modelrow/pkg/scene"
)

// crossFadeSeconds is the blend window when switching clips mid-play.
const crossFadeSeconds = 0.2

// ErrNotModelPack is returned when a clip-only pack is loaded as a
// slot's model.
var ErrNotModelPack = errors.New("pack is not a displayable model")

// OptionSource says which menu group an option belongs to.
type OptionSource string

const (
	// OptionSourceModel marks a clip intrinsic to the slot's model pack.
	OptionSourceModel OptionSource = "model"
	// OptionSourceClipPack marks a clip merged in from an attached pack.
	OptionSourceClipPack OptionSource = "clip_pack"
)

// Option is one playable animation in a slot's menu.
type Option struct {
	ID     string
	Label  string
	Source OptionSource
	PackID string
	Clip   scene.Clip
}

// Slot is not safe for concurrent use; the stage drives all slots from
// one loop.
type Slot struct {
	log   *zap.Logger
	index int

	model        *pack.Pack  // shared, registry-owned
	root         *scene.Node // private clone, slot-owned
	signature    string
	hasSignature bool

	options  []Option
	optionID map[string]bool
	attached map[string]bool // clip pack ids already merged

	mix mixer
}

// mixer is the cooperative clip mixer: one active clip with a looping
// playhead, and a short linear fade from whatever played before.
type mixer struct {
	active   string // option id, "" when idle
	duration float64
	playhead float64
	fadeFrom string
	fadeLeft float64
}

// New creates an empty slot.
func New(index int, log *zap.Logger) *Slot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Slot{
		log:      log.With(zap.Int("slot", index)),
		index:    index,
		optionID: make(map[string]bool),
		attached: make(map[string]bool),
	}
}

// Index returns the slot's stage position.
func (s *Slot) Index() int { return s.index }

// Occupied reports whether a model is loaded.
func (s *Slot) Occupied() bool { return s.model != nil }

// Model returns the loaded model pack, nil when empty.
func (s *Slot) Model() *pack.Pack { return s.model }

// Root returns the slot's private scene graph, nil when empty.
func (s *Slot) Root() *scene.Node { return s.root }

// Signature returns the loaded model's skeleton signature.
func (s *Slot) Signature() (string, bool) {
	return s.signature, s.hasSignature
}

// LoadModelPack replaces the slot's content with a model pack. The
// previous clone and its animation state are torn down first. The new
// model is snapped to the ground plane and its first intrinsic clip
// starts immediately, no fade.
func (s *Slot) LoadModelPack(p *pack.Pack) error {
	if p.Kind != pack.KindModelWithClip {
		return fmt.Errorf("%w: %s", ErrNotModelPack, p.ID)
	}

	s.teardown()

	s.model = p
	s.root = scene.Clone(p.Root)
	scene.SnapToGround(s.root)
	s.signature = p.Signature
	s.hasSignature = p.HasSignature

	for _, clip := range p.Clips {
		s.addOption(p.ID, clip, OptionSourceModel)
	}
	if len(s.options) > 0 {
		s.PlayClip(s.options[0].ID, true)
	}

	s.log.Info("model loaded",
		zap.String("pack", p.ID),
		zap.Int("clips", len(p.Clips)),
		zap.String("signature_sum", p.SignatureSum))
	return nil
}

// AttachClipPack merges a compatible clip pack's clips into the slot's
// menu and returns the ids of the options actually added. Rejection is
// never an error: an empty slot, a skeleton mismatch, or a pack already
// attached all return an empty result and leave the menu untouched.
// Compatibility requires both skeleton signatures present and equal.
func (s *Slot) AttachClipPack(p *pack.Pack) []string {
	if s.model == nil {
		return nil
	}
	if !s.hasSignature || !p.HasSignature || s.signature != p.Signature {
		s.log.Debug("clip pack skeleton does not match",
			zap.String("pack", p.ID))
		return nil
	}
	if s.attached[p.ID] {
		return nil
	}
	s.attached[p.ID] = true

	var added []string
	for _, clip := range p.Clips {
		if id, ok := s.addOption(p.ID, clip, OptionSourceClipPack); ok {
			added = append(added, id)
		}
	}

	s.log.Info("clip pack attached",
		zap.String("pack", p.ID),
		zap.Int("added", len(added)))
	return added
}

func (s *Slot) addOption(packID string, clip scene.Clip, src OptionSource) (string, bool) {
	id := packID + "/" + pack.Slug(clip.Name)
	if s.optionID[id] {
		return id, false
	}
	s.optionID[id] = true

	s.options = append(s.options, Option{
		ID:     id,
		Label:  clip.Name,
		Source: src,
		PackID: packID,
		Clip:   clip,
	})
	return id, true
}

// AnimationOptions lists the slot's menu: the model's own clips first,
// then attached clip-pack clips, each group ordered by label.
func (s *Slot) AnimationOptions() []Option {
	out := make([]Option, len(s.options))
	copy(out, s.options)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source == OptionSourceModel
		}
		li, lj := strings.ToLower(out[i].Label), strings.ToLower(out[j].Label)
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PlayClip switches the active animation. Unknown ids return false.
// Re-requesting the already active clip is a no-op; it keeps its
// playhead. Otherwise the switch cross-fades unless immediate.
func (s *Slot) PlayClip(id string, immediate bool) bool {
	if !s.optionID[id] {
		return false
	}
	if s.mix.active == id {
		return true
	}

	var dur float64
	for _, o := range s.options {
		if o.ID == id {
			dur = o.Clip.Duration
			break
		}
	}

	if s.mix.active != "" && !immediate {
		s.mix.fadeFrom = s.mix.active
		s.mix.fadeLeft = crossFadeSeconds
	} else {
		s.mix.fadeFrom = ""
		s.mix.fadeLeft = 0
	}
	s.mix.active = id
	s.mix.duration = dur
	s.mix.playhead = 0
	return true
}

// ActiveClip returns the playing option id, "" when idle.
func (s *Slot) ActiveClip() string { return s.mix.active }

// FadeProgress reports the blend state: the option id being faded out and
// how much of the fade window remains. Zero remaining means no fade is in
// flight.
func (s *Slot) FadeProgress() (from string, remaining float64) {
	return s.mix.fadeFrom, s.mix.fadeLeft
}

// Playhead returns the active clip's loop position in seconds.
func (s *Slot) Playhead() float64 { return s.mix.playhead }

// Update advances the mixer by dt seconds.
func (s *Slot) Update(dt float64) {
	if s.mix.active == "" || dt <= 0 {
		return
	}
	if s.mix.fadeLeft > 0 {
		s.mix.fadeLeft -= dt
		if s.mix.fadeLeft <= 0 {
			s.mix.fadeLeft = 0
			s.mix.fadeFrom = ""
		}
	}
	s.mix.playhead += dt
	if s.mix.duration > 0 {
		for s.mix.playhead >= s.mix.duration {
			s.mix.playhead -= s.mix.duration
		}
	}
}

// Clear empties the slot, disposing its private clone.
func (s *Slot) Clear() {
	s.teardown()
	s.log.Info("slot cleared")
}

func (s *Slot) teardown() {
	s.mix = mixer{}
	if s.root != nil {
		scene.Dispose(s.root)
		s.root = nil
	}
	s.model = nil
	s.signature = ""
	s.hasSignature = false
	s.options = nil
	s.optionID = make(map[string]bool)
	s.attached = make(map[string]bool)
}
