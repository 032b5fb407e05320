// Package stage owns the five showcase slots and the drop folder. Dropped
// archives are picked up by a filesystem watcher, ingested on the tick
// loop, and routed: model packs fill empty visible slots, clip packs
// attach to every compatible occupied slot.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/pack"
	"github.com/modelrow/modelrow/internal/registry"
	"github.com/modelrow/modelrow/internal/slot"
)

// SlotCount is fixed; the visible count only hides trailing slots.
const SlotCount = 5

// maxTickSeconds caps the timestep fed to the mixers, so a stall does not
// fast-forward every animation on the next frame.
const maxTickSeconds = 0.05

// Stage is driven from a single loop: Tick, slot access, and visibility
// changes must all happen on the same goroutine. Only the watcher runs
// concurrently, and it hands work over through a channel that Tick drains.
type Stage struct {
	log *zap.Logger
	reg *registry.Registry

	slots   [SlotCount]*slot.Slot
	visible int

	drops    chan string
	ingested map[string]bool
	watcher  *fsnotify.Watcher
}

// New builds a stage over the registry. visible is clamped to the
// supported range.
func New(reg *registry.Registry, visible int, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	st := &Stage{
		log:      log,
		reg:      reg,
		drops:    make(chan string, 16),
		ingested: make(map[string]bool),
	}
	for i := range st.slots {
		st.slots[i] = slot.New(i, log)
	}
	st.SetVisibleCount(visible)
	return st
}

// Slot returns the slot at index i, nil when out of range.
func (st *Stage) Slot(i int) *slot.Slot {
	if i < 0 || i >= SlotCount {
		return nil
	}
	return st.slots[i]
}

// Slots returns all slots in stage order.
func (st *Stage) Slots() []*slot.Slot {
	return st.slots[:]
}

// VisibleCount returns how many leading slots are shown.
func (st *Stage) VisibleCount() int { return st.visible }

// SetVisibleCount clamps n to the supported range. Hidden slots keep their
// content; showing them again resumes where they left off.
func (st *Stage) SetVisibleCount(n int) {
	if n < 3 {
		n = 3
	}
	if n > SlotCount {
		n = SlotCount
	}
	st.visible = n
}

// LoadModel fetches a manifest model pack and loads it into slot i.
func (st *Stage) LoadModel(ctx context.Context, i int, id string) error {
	s := st.Slot(i)
	if s == nil {
		return fmt.Errorf("slot %d out of range", i)
	}
	p, err := st.reg.LoadModelPack(ctx, id)
	if err != nil {
		return err
	}
	return s.LoadModelPack(p)
}

// AttachClip fetches a manifest clip pack and attaches it to every
// compatible occupied slot, returning how many slots accepted it.
func (st *Stage) AttachClip(ctx context.Context, id string) (int, error) {
	p, err := st.reg.LoadClipPack(ctx, id)
	if err != nil {
		return 0, err
	}
	return st.attachEverywhere(p), nil
}

func (st *Stage) attachEverywhere(p *pack.Pack) int {
	attached := 0
	for _, s := range st.slots {
		if !s.Occupied() {
			continue
		}
		if added := s.AttachClipPack(p); len(added) > 0 {
			attached++
		}
	}
	return attached
}

// WatchDropFolder starts watching dir for archive drops. Call Close to
// stop. Watching twice replaces the previous watch.
func (st *Stage) WatchDropFolder(dir string) error {
	if st.watcher != nil {
		st.watcher.Close()
		st.watcher = nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting drop watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	st.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
					continue
				}
				if !strings.EqualFold(filepath.Ext(ev.Name), ".zip") {
					continue
				}
				select {
				case st.drops <- ev.Name:
				default:
					// Channel full; later write events retry the file.
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				st.log.Warn("drop watcher error", zap.Error(err))
			}
		}
	}()

	st.log.Info("watching drop folder", zap.String("dir", dir))
	return nil
}

// Tick advances the stage by dt seconds, first ingesting any pending
// drops, then updating every occupied slot's mixer. dt is clamped so a
// long stall cannot fast-forward animations.
func (st *Stage) Tick(dt float64) {
drain:
	for {
		select {
		case path := <-st.drops:
			st.ingestDrop(path)
		default:
			break drain
		}
	}

	if dt > maxTickSeconds {
		dt = maxTickSeconds
	}
	for _, s := range st.slots {
		if s.Occupied() {
			s.Update(dt)
		}
	}
}

// ingestDrop reads and ingests one dropped archive. Failures are logged
// and left alone: a partially written file fails here and is retried on
// its next write event.
func (st *Stage) ingestDrop(path string) {
	if st.ingested[path] {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		st.log.Warn("reading dropped archive", zap.String("path", path), zap.Error(err))
		return
	}

	p, release, err := pack.FromArchive(data, dropLabel(path), st.log)
	if err != nil {
		st.log.Warn("ingesting dropped archive", zap.String("path", path), zap.Error(err))
		return
	}
	st.ingested[path] = true
	id := st.reg.RegisterRuntimePack(p, release)

	if p.Kind == pack.KindModelWithClip {
		st.placeModel(p, id)
		return
	}

	attached := st.attachEverywhere(p)
	st.log.Info("dropped clip pack attached",
		zap.String("id", id), zap.Int("slots", attached))
}

// placeModel puts a dropped model into the first empty visible slot. With
// no empty slot it stays registered but off stage.
func (st *Stage) placeModel(p *pack.Pack, id string) {
	for i := 0; i < st.visible; i++ {
		if st.slots[i].Occupied() {
			continue
		}
		if err := st.slots[i].LoadModelPack(p); err != nil {
			st.log.Warn("loading dropped model", zap.String("id", id), zap.Error(err))
			return
		}
		st.log.Info("dropped model placed",
			zap.String("id", id), zap.Int("slot", i))
		return
	}
	st.log.Warn("no empty slot for dropped model", zap.String("id", id))
}

// Close stops the watcher and clears every slot. The registry and its
// packs are not touched; their owner disposes them.
func (st *Stage) Close() {
	if st.watcher != nil {
		st.watcher.Close()
		st.watcher = nil
	}
	for _, s := range st.slots {
		if s.Occupied() {
			s.Clear()
		}
	}
}

func dropLabel(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
