package pack

import (
	"strings"
	"testing"

	"github.com/modelrow/modelrow/pkg/fbx/fbxtest"
	"github.com/modelrow/modelrow/pkg/scene"
)

func TestFromArchiveModelPack(t *testing.T) {
	data := fbxtest.ModelArchive(t, []string{"Hip", "Spine", "Head"}, []string{"Idle", "Walk"})

	p, release, err := FromArchive(data, "Hero", nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	defer release()

	if p.Kind != KindModelWithClip {
		t.Errorf("kind = %q", p.Kind)
	}
	if !p.HasSkinnedMesh {
		t.Error("skinned mesh lost")
	}
	if len(p.Clips) != 2 {
		t.Errorf("clips = %d", len(p.Clips))
	}
	if !p.HasSignature || p.Signature != "hip|spine|head" {
		t.Errorf("signature = %q, %v", p.Signature, p.HasSignature)
	}
	if p.SignatureSum == "" {
		t.Error("no signature digest")
	}
	if len(p.TextureFileNames) != 1 || p.TextureFileNames[0] != "body_diffuse.png" {
		t.Errorf("texture names = %v", p.TextureFileNames)
	}
	if p.SizeBytes == 0 {
		t.Error("size not recorded")
	}

	// The texture reference was authored under an absolute .fbm path; the
	// material must carry the in-memory handle after ingestion.
	textured := false
	p.Root.Walk(func(n *scene.Node) bool {
		if n.Mesh != nil && strings.HasPrefix(n.Mesh.Material.DiffuseTexture, "mem://") {
			textured = true
		}
		return true
	})
	if !textured {
		t.Error("texture reference not rewritten to an archive handle")
	}
}

func TestFromArchiveClipPack(t *testing.T) {
	data := fbxtest.ClipArchive(t, []string{"Hip", "Spine", "Head"}, []string{"Dance"})

	p, release, err := FromArchive(data, "Dances", nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	defer release()

	if p.Kind != KindClipOnly {
		t.Errorf("kind = %q", p.Kind)
	}
	if len(p.Clips) != 1 || p.Clips[0].Name != "Dance" {
		t.Errorf("clips = %+v", p.Clips)
	}
	if !p.HasSignature || p.Signature != "hip|spine|head" {
		t.Errorf("signature = %q, %v", p.Signature, p.HasSignature)
	}
}

func TestCompatibleWith(t *testing.T) {
	model := &Pack{Signature: "hip|spine", HasSignature: true}
	sameSig := &Pack{Signature: "hip|spine", HasSignature: true}
	otherSig := &Pack{Signature: "root|tail", HasSignature: true}
	noSig := &Pack{}

	if !model.CompatibleWith(sameSig) {
		t.Error("equal signatures reported incompatible")
	}
	if model.CompatibleWith(otherSig) {
		t.Error("different signatures reported compatible")
	}
	if model.CompatibleWith(noSig) || noSig.CompatibleWith(noSig) {
		t.Error("null signature must never match, not even itself")
	}
}

func TestFromArchiveRejectsBadData(t *testing.T) {
	if _, _, err := FromArchive([]byte("not a zip"), "x", nil); err == nil {
		t.Error("junk accepted")
	}

	// Valid zip, but the model inside is not binary FBX.
	data := fbxtest.Zip(t, map[string][]byte{"model.fbx": []byte("ascii fbx maybe")})
	if _, _, err := FromArchive(data, "x", nil); err == nil {
		t.Error("non-binary model accepted")
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hero Knight", "hero-knight"},
		{"  Dance Pack #2  ", "dance-pack-2"},
		{"UPPER", "upper"},
		{"---", ""},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
