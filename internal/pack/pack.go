// Package pack defines the unit the showcase trades in: one ingested 3D
// asset, either a skinned model with its intrinsic clips or an
// animation-only clip pack, plus the pipeline that builds packs from
// uploaded archives.
package pack

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/archive"
	"github.com/modelrow/modelrow/internal/texture"
	"github.com/modelrow/modelrow/pkg/fbx"
	"github.com/modelrow/modelrow/pkg/scene"
)

// Kind classifies a pack by payload.
type Kind string

const (
	// KindModelWithClip is a displayable skinned model; it may carry
	// intrinsic clips.
	KindModelWithClip Kind = "model_with_clip"
	// KindClipOnly carries animation clips meant to be attached to a
	// compatible model, never displayed on its own.
	KindClipOnly Kind = "clip_only"
)

// Source records where a pack came from.
type Source string

const (
	SourceManifest Source = "manifest"
	SourceRuntime  Source = "runtime"
)

// Pack is one ingested asset. A pack's Kind is model_with_clip exactly when
// its graph contains a skinned mesh. The skeleton signature is computed
// once here at ingestion and never recomputed: slots clone and mutate the
// graph, and those mutations must not disturb the stored signature.
type Pack struct {
	Kind   Kind
	ID     string
	Label  string
	Source Source

	SizeBytes int64

	Root  *scene.Node
	Clips []scene.Clip

	Signature    string
	HasSignature bool
	SignatureSum string // short content digest of the signature, for logs

	HasSkinnedMesh   bool
	TextureFileNames []string
}

// CompatibleWith reports whether other's clips can retarget onto p:
// both signatures present and string-equal. Equality is bone names only;
// matching skeletons with different bind poses is an accepted false
// positive that consumers rely on.
func (p *Pack) CompatibleWith(other *Pack) bool {
	return p.HasSignature && other.HasSignature && p.Signature == other.Signature
}

// FromArchive runs the full ingestion pipeline on archive bytes: ZIP
// validation, FBX parse with texture-reference resolution, texture
// validation, classification, and signature computation.
//
// The returned release callback revokes the archive's member handles and
// must be called exactly once when the pack is retired; the registry owns
// that. On error nothing needs releasing: partial state is torn down here
// before the error propagates.
func FromArchive(data []byte, label string, log *zap.Logger) (*Pack, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}

	a, err := archive.Open(data)
	if err != nil {
		return nil, nil, err
	}

	loader := fbx.Loader{
		Resolve: a.Resolve,
		Fetch: func(resolved string) error {
			if !strings.HasPrefix(resolved, archive.HandlePrefix) {
				return fmt.Errorf("texture %s not present in archive", resolved)
			}
			content, err := a.Fetch(resolved)
			if err != nil {
				return err
			}
			_, err = texture.Validate(resolved, content)
			return err
		},
	}

	res, err := loader.Load(a.ModelBytes())
	if err != nil {
		// Cleanup must run even though the error is rethrown: the handles
		// would otherwise leak with no owner.
		a.Release()
		return nil, nil, fmt.Errorf("loading %s: %w", a.ModelName, err)
	}

	for _, t := range res.Textures {
		if t.Err != nil {
			// A broken texture degrades the model's look, not its load.
			log.Warn("texture failed validation",
				zap.String("ref", t.Ref),
				zap.String("resolved", t.Resolved),
				zap.Error(t.Err))
		}
	}

	p := &Pack{
		Label:            label,
		SizeBytes:        a.SizeBytes(),
		Root:             res.Root,
		Clips:            res.Clips,
		HasSkinnedMesh:   res.HasSkinnedMesh,
		TextureFileNames: a.TextureFileNames(),
	}
	if p.HasSkinnedMesh {
		p.Kind = KindModelWithClip
	} else {
		p.Kind = KindClipOnly
	}
	p.Signature, p.HasSignature = scene.Signature(res.Root)
	if p.HasSignature {
		p.SignatureSum = SignatureSum(p.Signature)
	}

	log.Debug("ingested archive",
		zap.String("model", a.ModelName),
		zap.String("kind", string(p.Kind)),
		zap.Int("clips", len(p.Clips)),
		zap.Int("textures", len(p.TextureFileNames)),
		zap.String("signature_sum", p.SignatureSum))

	return p, a.Release, nil
}

// Slug turns a label into an id-safe fragment: lower-cased, runs of
// non-alphanumerics collapsed to single dashes.
func Slug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SignatureSum is a short digest of a skeleton signature for log
// correlation. Compatibility checks always compare the raw signature,
// never this.
func SignatureSum(sig string) string {
	sum := blake3.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:8])
}
