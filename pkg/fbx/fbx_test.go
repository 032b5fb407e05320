package fbx

import (
	"errors"
	"strings"
	"testing"

	"github.com/modelrow/modelrow/pkg/fbx/fbxtest"
	"github.com/modelrow/modelrow/pkg/scene"
)

// heroFixture builds a skinned character with three bones, a phong material
// with a texture authored under an absolute .fbm path, and one clip. The
// mesh model carries a local translation so bounds tests can see transforms
// applied.
func heroFixture(compressVerts bool) []byte {
	verts := []float64{
		-1, 0, -1, 1, 0, -1, 1, 0, 1, -1, 0, 1,
		-1, 2, -1, 1, 2, -1, 1, 2, 1, -1, 2, 1,
	}
	vertsProp := fbxtest.PArrD(verts)
	if compressVerts {
		vertsProp = fbxtest.PArrDZip(verts)
	}

	pL, pS, pD := fbxtest.PL, fbxtest.PS, fbxtest.PD
	typed := fbxtest.Typed

	objects := &fbxtest.Node{Name: "Objects", Children: []*fbxtest.Node{
		{Name: "Geometry", Props: []fbxtest.Prop{pL(100), pS(typed("body", "Geometry")), pS("Mesh")}, Children: []*fbxtest.Node{
			{Name: "Vertices", Props: []fbxtest.Prop{vertsProp}},
			{Name: "PolygonVertexIndex", Props: []fbxtest.Prop{fbxtest.PArrI([]int64{0, 1, 2, -4, 4, 5, 6, -8})}},
		}},
		{Name: "Model", Props: []fbxtest.Prop{pL(200), pS(typed("Body", "Model")), pS("Mesh")}, Children: []*fbxtest.Node{
			{Name: "Properties70", Children: []*fbxtest.Node{
				{Name: "P", Props: []fbxtest.Prop{pS("Lcl Translation"), pS("Lcl Translation"), pS(""), pS("A"), pD(0), pD(1), pD(0)}},
			}},
		}},
		{Name: "Model", Props: []fbxtest.Prop{pL(301), pS(typed("Hip", "Model")), pS("LimbNode")}},
		{Name: "Model", Props: []fbxtest.Prop{pL(302), pS(typed("Spine", "Model")), pS("LimbNode")}},
		{Name: "Model", Props: []fbxtest.Prop{pL(303), pS(typed("Head", "Model")), pS("LimbNode")}},
		{Name: "Deformer", Props: []fbxtest.Prop{pL(400), pS(typed("", "Deformer")), pS("Skin")}},
		{Name: "Deformer", Props: []fbxtest.Prop{pL(401), pS(typed("", "SubDeformer")), pS("Cluster")}},
		{Name: "Deformer", Props: []fbxtest.Prop{pL(402), pS(typed("", "SubDeformer")), pS("Cluster")}},
		{Name: "Deformer", Props: []fbxtest.Prop{pL(403), pS(typed("", "SubDeformer")), pS("Cluster")}},
		{Name: "Material", Props: []fbxtest.Prop{pL(500), pS(typed("skin", "Material")), pS("")}, Children: []*fbxtest.Node{
			{Name: "ShadingModel", Props: []fbxtest.Prop{pS("Phong")}},
		}},
		{Name: "Texture", Props: []fbxtest.Prop{pL(600), pS(typed("diffuse", "Texture")), pS("")}, Children: []*fbxtest.Node{
			{Name: "RelativeFilename", Props: []fbxtest.Prop{pS("C:\\assets\\hero.fbm\\body_diffuse.png")}},
		}},
		{Name: "AnimationStack", Props: []fbxtest.Prop{pL(700), pS(typed("Idle", "AnimStack")), pS("")}, Children: []*fbxtest.Node{
			{Name: "Properties70", Children: []*fbxtest.Node{
				{Name: "P", Props: []fbxtest.Prop{pS("LocalStop"), pS("KTime"), pS("Time"), pS(""), pL(2 * fbxtest.KTime)}},
			}},
		}},
		{Name: "AnimationLayer", Props: []fbxtest.Prop{pL(701), pS(typed("Base", "AnimLayer")), pS("")}},
		{Name: "AnimationCurveNode", Props: []fbxtest.Prop{pL(702), pS(typed("T", "AnimCurveNode")), pS("")}},
		{Name: "AnimationCurveNode", Props: []fbxtest.Prop{pL(703), pS(typed("R", "AnimCurveNode")), pS("")}},
	}}

	connections := &fbxtest.Node{Name: "Connections", Children: []*fbxtest.Node{
		fbxtest.OO(200, 0),
		fbxtest.OO(301, 0), fbxtest.OO(302, 301), fbxtest.OO(303, 302),
		fbxtest.OO(100, 200),
		fbxtest.OO(400, 100),
		fbxtest.OO(401, 400), fbxtest.OO(402, 400), fbxtest.OO(403, 400),
		fbxtest.OO(301, 401), fbxtest.OO(302, 402), fbxtest.OO(303, 403),
		fbxtest.OO(500, 200),
		fbxtest.OP(600, 500, "DiffuseColor"),
		fbxtest.OO(701, 700),
		fbxtest.OO(702, 701), fbxtest.OO(703, 701),
	}}

	return fbxtest.Encode(7400, objects, connections)
}

// --- parser tests ---

func TestParseRejectsBadMagic(t *testing.T) {
	data := []byte("not an fbx file at all, padding padding")
	if _, err := Parse(data); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestParseRejectsVersion(t *testing.T) {
	data := fbxtest.Encode(6100)
	if _, err := Parse(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseTruncated(t *testing.T) {
	data := heroFixture(false)
	if _, err := Parse(data[:40]); err == nil {
		t.Error("truncated data parsed without error")
	}
}

func TestParseNodeTree(t *testing.T) {
	doc, err := Parse(heroFixture(false))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Version != 7400 {
		t.Errorf("version = %d", doc.Version)
	}
	if len(doc.Nodes) != 2 {
		t.Fatalf("top-level node count = %d, want 2", len(doc.Nodes))
	}

	objects := doc.Nodes[0]
	if objects.Name != "Objects" {
		t.Fatalf("first node = %q", objects.Name)
	}

	geom := objects.FindChild("Geometry")
	if geom == nil {
		t.Fatal("no Geometry record")
	}
	if got := geom.PropInt(0); got != 100 {
		t.Errorf("geometry id = %d", got)
	}
	verts := geom.FindChild("Vertices")
	if verts == nil || len(verts.Props[0].Floats) != 24 {
		t.Fatal("vertices array not decoded")
	}
	if verts.Props[0].Floats[13] != 2 {
		t.Errorf("vertex value = %f, want 2", verts.Props[0].Floats[13])
	}
}

func TestParseCompressedArray(t *testing.T) {
	doc, err := Parse(heroFixture(true))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	verts := doc.Nodes[0].FindChild("Geometry").FindChild("Vertices")
	if len(verts.Props[0].Floats) != 24 {
		t.Fatalf("compressed vertices: got %d values", len(verts.Props[0].Floats))
	}
	if verts.Props[0].Floats[13] != 2 {
		t.Errorf("compressed vertex value = %f", verts.Props[0].Floats[13])
	}
}

// --- loader tests ---

func TestLoadHero(t *testing.T) {
	var loader Loader
	res, err := loader.Load(heroFixture(false))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !res.HasSkinnedMesh {
		t.Error("skinned mesh not detected")
	}

	if len(res.Clips) != 1 {
		t.Fatalf("clip count = %d", len(res.Clips))
	}
	clip := res.Clips[0]
	if clip.Name != "Idle" {
		t.Errorf("clip name = %q", clip.Name)
	}
	if clip.Duration < 1.99 || clip.Duration > 2.01 {
		t.Errorf("clip duration = %f, want 2", clip.Duration)
	}
	if clip.Tracks != 2 {
		t.Errorf("clip tracks = %d, want 2", clip.Tracks)
	}

	if len(res.Textures) != 1 {
		t.Fatalf("texture count = %d", len(res.Textures))
	}
	if res.Textures[0].Ref != "C:\\assets\\hero.fbm\\body_diffuse.png" {
		t.Errorf("texture ref = %q", res.Textures[0].Ref)
	}
}

func TestLoadSkeletonSignatureOrder(t *testing.T) {
	var loader Loader
	res, err := loader.Load(heroFixture(false))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Bone order comes from the cluster connections (skin order), not from
	// hierarchy traversal.
	sig, ok := scene.Signature(res.Root)
	if !ok {
		t.Fatal("no signature computed")
	}
	if sig != "hip|spine|head" {
		t.Errorf("signature = %q, want %q", sig, "hip|spine|head")
	}

	b := scene.WorldBounds(res.Root)
	if !b.Valid() {
		t.Fatal("no world bounds")
	}
	if b.Min.Y > 1.01 || b.Min.Y < 0.99 {
		t.Errorf("min y = %f, want 1 (translated by Lcl Translation)", b.Min.Y)
	}
}

func TestLoadSkinnedModelFixture(t *testing.T) {
	var loader Loader
	res, err := loader.Load(fbxtest.SkinnedModel([]string{"Root", "Arm"}, []string{"Wave", "Bow"}, ""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !res.HasSkinnedMesh {
		t.Error("skinned mesh not detected")
	}
	if len(res.Clips) != 2 {
		t.Fatalf("clip count = %d", len(res.Clips))
	}
	sig, ok := scene.Signature(res.Root)
	if !ok || sig != "root|arm" {
		t.Errorf("signature = %q, %v", sig, ok)
	}
}

func TestLoadSkinWiredWhenMeshPrecedesBones(t *testing.T) {
	// The mesh model is defined before its LimbNodes in this document, so
	// the skin can only be wired after every model node exists.
	var loader Loader
	res, err := loader.Load(fbxtest.SkinnedModel([]string{"Hip", "Spine", "Head"}, nil, ""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var skinned *scene.Node
	res.Root.Walk(func(n *scene.Node) bool {
		if n.Kind == scene.KindSkinnedMesh {
			skinned = n
		}
		return true
	})
	if skinned == nil {
		t.Fatal("no skinned mesh in graph")
	}
	if skinned.Skin == nil || len(skinned.Skin.Bones) != 3 {
		t.Fatalf("skin bones not wired: %+v", skinned.Skin)
	}
	for i, want := range []string{"Hip", "Spine", "Head"} {
		if got := skinned.Skin.Bones[i].Name; got != want {
			t.Errorf("bone %d = %q, want %q", i, got, want)
		}
	}
}

func TestLoadClipOnlyFixture(t *testing.T) {
	var loader Loader
	res, err := loader.Load(fbxtest.ClipOnly([]string{"Root", "Arm"}, []string{"Wave"}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if res.HasSkinnedMesh {
		t.Error("clip-only document reported a skinned mesh")
	}
	// Loose bones still yield a signature, in traversal order.
	sig, ok := scene.Signature(res.Root)
	if !ok || sig != "root|arm" {
		t.Errorf("signature = %q, %v", sig, ok)
	}
}

func TestLoadResolvesTextures(t *testing.T) {
	resolved := make(map[string]string)
	fetched := []string{}

	loader := Loader{
		Resolve: func(ref string) string {
			r := "mem://" + strings.ToLower(ref)
			resolved[ref] = r
			return r
		},
		Fetch: func(handle string) error {
			fetched = append(fetched, handle)
			return nil
		},
	}

	res, err := loader.Load(heroFixture(false))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("fetch count = %d", len(fetched))
	}
	if !strings.HasPrefix(fetched[0], "mem://") {
		t.Errorf("fetch received unresolved reference %q", fetched[0])
	}
	if res.Textures[0].Resolved != fetched[0] {
		t.Errorf("resolved ref mismatch: %q vs %q", res.Textures[0].Resolved, fetched[0])
	}

	// The mesh material must carry the resolved handle, not the authored
	// absolute path.
	found := false
	res.Root.Walk(func(n *scene.Node) bool {
		if n.Mesh != nil && n.Mesh.Material.DiffuseTexture != "" {
			found = true
			if !strings.HasPrefix(n.Mesh.Material.DiffuseTexture, "mem://") {
				t.Errorf("material texture = %q, not resolved", n.Mesh.Material.DiffuseTexture)
			}
		}
		return true
	})
	if !found {
		t.Error("no textured mesh in graph")
	}
}

func TestLoadNoObjects(t *testing.T) {
	data := fbxtest.Encode(7400, &fbxtest.Node{Name: "Header", Props: []fbxtest.Prop{fbxtest.PI(1)}})
	var loader Loader
	if _, err := loader.Load(data); !errors.Is(err, ErrNoObjects) {
		t.Errorf("expected ErrNoObjects, got %v", err)
	}
}
