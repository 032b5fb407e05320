// Package registry caches ingested packs. Manifest packs are fetched and
// ingested once on first request; drop-folder packs are admitted at
// runtime. The registry owns every pack's release callback and runs them
// all on Dispose.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/fetch"
	"github.com/modelrow/modelrow/internal/manifest"
	"github.com/modelrow/modelrow/internal/pack"
)

var (
	// ErrNotRegistered is returned for ids absent from the manifest and
	// never admitted at runtime.
	ErrNotRegistered = errors.New("pack not registered")
	// ErrMissingSource is returned when a registered entry has no archive
	// URL to fetch.
	ErrMissingSource = errors.New("pack has no source url")
)

// Stats counts cache traffic.
type Stats struct {
	Hits   int
	Misses int
}

// Registry is safe for concurrent use. The lock is dropped during fetch
// and ingestion, so two concurrent first requests for the same id may both
// do the work; the second result is released and the first kept.
type Registry struct {
	log    *zap.Logger
	client *fetch.Client

	mu           sync.Mutex
	modelEntries map[string]manifest.Entry
	clipEntries  map[string]manifest.Entry
	models       map[string]*pack.Pack
	clips        map[string]*pack.Pack
	releases     map[string]func()
	runtimeSeq   int
	stats        Stats
	disposed     bool
}

// New builds a registry over the manifest's declared packs. A nil client
// gets default HTTP settings; a nil manifest means no declared packs.
func New(m *manifest.Manifest, client *fetch.Client, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = fetch.New(nil, log)
	}

	r := &Registry{
		log:          log,
		client:       client,
		modelEntries: make(map[string]manifest.Entry),
		clipEntries:  make(map[string]manifest.Entry),
		models:       make(map[string]*pack.Pack),
		clips:        make(map[string]*pack.Pack),
		releases:     make(map[string]func()),
	}
	if m != nil {
		for _, e := range m.ModelPacks {
			r.modelEntries[e.ID] = e
		}
		for _, e := range m.ClipPacks {
			r.clipEntries[e.ID] = e
		}
	}
	return r
}

// LoadModelPack returns the model pack for a manifest id, fetching and
// ingesting its archive on first request.
func (r *Registry) LoadModelPack(ctx context.Context, id string) (*pack.Pack, error) {
	return r.load(ctx, id, r.modelEntries, r.models)
}

// LoadClipPack is LoadModelPack for the clip-pack namespace.
func (r *Registry) LoadClipPack(ctx context.Context, id string) (*pack.Pack, error) {
	return r.load(ctx, id, r.clipEntries, r.clips)
}

func (r *Registry) load(ctx context.Context, id string, entries map[string]manifest.Entry, cache map[string]*pack.Pack) (*pack.Pack, error) {
	r.mu.Lock()
	if p, ok := cache[id]; ok {
		r.stats.Hits++
		r.mu.Unlock()
		return p, nil
	}
	r.stats.Misses++
	entry, ok := entries[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if entry.FBXURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingSource, id)
	}

	if declared := r.client.ProbeSize(ctx, entry.FBXURL); declared != fetch.SizeUnknown {
		r.log.Info("fetching pack archive",
			zap.String("id", id),
			zap.String("declared_size", humanize.Bytes(uint64(declared))))
	} else {
		r.log.Info("fetching pack archive", zap.String("id", id))
	}

	data, err := r.client.FetchArchive(ctx, entry.FBXURL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", id, err)
	}

	p, release, err := pack.FromArchive(data, entry.Label, r.log)
	if err != nil {
		return nil, fmt.Errorf("ingesting %s: %w", id, err)
	}
	p.ID = id
	p.Source = pack.SourceManifest
	if string(p.Kind) != entry.Kind {
		// The manifest kind is a declaration; what the archive actually
		// contains wins.
		r.log.Warn("manifest kind disagrees with archive content",
			zap.String("id", id),
			zap.String("declared", entry.Kind),
			zap.String("actual", string(p.Kind)))
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		release()
		return nil, errors.New("registry disposed")
	}
	if existing, ok := cache[id]; ok {
		// Lost a concurrent first-load race. Keep the cached pack so every
		// caller shares one graph.
		r.mu.Unlock()
		release()
		return existing, nil
	}
	cache[id] = p
	r.releases[id] = release
	r.mu.Unlock()

	r.log.Info("pack ready",
		zap.String("id", id),
		zap.String("kind", string(p.Kind)),
		zap.Int("clips", len(p.Clips)),
		zap.String("size", humanize.Bytes(uint64(p.SizeBytes))),
		zap.String("signature_sum", p.SignatureSum))
	return p, nil
}

// RegisterRuntimePack admits an already-ingested pack, assigning it a
// unique id built from a monotonic counter and the slugged label. The
// registry takes over the release callback.
func (r *Registry) RegisterRuntimePack(p *pack.Pack, release func()) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runtimeSeq++
	id := fmt.Sprintf("runtime-%d", r.runtimeSeq)
	if slug := pack.Slug(p.Label); slug != "" {
		id += "-" + slug
	}
	p.ID = id
	p.Source = pack.SourceRuntime

	if p.Kind == pack.KindModelWithClip {
		r.models[id] = p
	} else {
		r.clips[id] = p
	}
	if release != nil {
		r.releases[id] = release
	}

	r.log.Info("runtime pack admitted",
		zap.String("id", id),
		zap.String("kind", string(p.Kind)),
		zap.String("signature_sum", p.SignatureSum))
	return id
}

// LoadedClipPacks lists the clip packs already in memory, ordered by id.
// Declared-but-unfetched manifest entries are not included.
func (r *Registry) LoadedClipPacks() []*pack.Pack {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*pack.Pack, 0, len(r.clips))
	for _, p := range r.clips {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ModelIDs lists the manifest's declared model pack ids, ordered.
func (r *Registry) ModelIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.modelEntries))
	for id := range r.modelEntries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClipIDs lists the manifest's declared clip pack ids, ordered.
func (r *Registry) ClipIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.clipEntries))
	for id := range r.clipEntries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns cache hit and miss counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Dispose runs every release callback and empties the caches. Each
// callback is isolated: one panicking does not stop the rest. Dispose is
// idempotent.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	releases := r.releases
	r.releases = nil
	r.models = make(map[string]*pack.Pack)
	r.clips = make(map[string]*pack.Pack)
	r.mu.Unlock()

	for id, release := range releases {
		r.runRelease(id, release)
	}
}

func (r *Registry) runRelease(id string, release func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pack release panicked",
				zap.String("id", id), zap.Any("panic", rec))
		}
	}()
	release()
}
