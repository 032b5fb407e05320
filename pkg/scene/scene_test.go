package scene

import (
	"testing"

	"github.com/modelrow/modelrow/pkg/math"
)

// skinnedRig builds a minimal skinned character: root → hip → spine → head
// bones plus a skinned mesh bound to them in skin order.
func skinnedRig(boneNames ...string) *Node {
	root := NewNode("armature")

	var bones []*Node
	parent := root
	for _, name := range boneNames {
		b := NewNode(name)
		b.Kind = KindBone
		parent.Children = append(parent.Children, b)
		bones = append(bones, b)
		parent = b
	}

	mesh := NewNode("body")
	mesh.Kind = KindSkinnedMesh
	mesh.Mesh = &Mesh{
		VertexCount: 8,
		Bounds: Bounds{
			Min: math.Vec3{X: -1, Y: -2, Z: -1},
			Max: math.Vec3{X: 1, Y: 2, Z: 1},
		},
		Material: StandardMaterial("body.png"),
	}
	mesh.Skin = &Skin{Bones: bones}
	root.Children = append(root.Children, mesh)
	return root
}

func TestSignatureFromSkinnedMesh(t *testing.T) {
	root := skinnedRig(" Hip ", "Spine", "HEAD")

	sig, ok := Signature(root)
	if !ok {
		t.Fatal("expected a signature")
	}
	if sig != "hip|spine|head" {
		t.Errorf("signature = %q, want %q", sig, "hip|spine|head")
	}
}

func TestSignatureEqualForIdenticalBoneLists(t *testing.T) {
	a := skinnedRig("hip", "spine", "head")
	b := skinnedRig("HIP", " spine", "head ")

	sigA, _ := Signature(a)
	sigB, _ := Signature(b)
	if sigA != sigB {
		t.Errorf("identical bone lists produced different signatures: %q vs %q", sigA, sigB)
	}
}

func TestSignatureLooseBones(t *testing.T) {
	// No skinned mesh: loose bones collected in traversal order.
	root := NewNode("clip_root")
	for _, name := range []string{"hip", "spine"} {
		b := NewNode(name)
		b.Kind = KindBone
		root.Children = append(root.Children, b)
	}

	sig, ok := Signature(root)
	if !ok || sig != "hip|spine" {
		t.Errorf("loose bone signature = %q (ok=%v)", sig, ok)
	}
}

func TestSignatureNone(t *testing.T) {
	root := NewNode("empty")
	mesh := NewNode("prop")
	mesh.Kind = KindMesh
	mesh.Mesh = &Mesh{VertexCount: 3}
	root.Children = append(root.Children, mesh)

	if sig, ok := Signature(root); ok {
		t.Errorf("boneless graph produced signature %q", sig)
	}
}

func TestSignatureDropsEmptyBoneNames(t *testing.T) {
	root := skinnedRig("hip", "   ", "head")
	sig, _ := Signature(root)
	if sig != "hip|head" {
		t.Errorf("signature = %q, want %q", sig, "hip|head")
	}
}

func TestHasSkinnedMesh(t *testing.T) {
	if !HasSkinnedMesh(skinnedRig("hip")) {
		t.Error("skinned rig not detected")
	}
	if HasSkinnedMesh(NewNode("empty")) {
		t.Error("empty graph reported as skinned")
	}
}

func TestCloneRebindsSkin(t *testing.T) {
	src := skinnedRig("hip", "spine")
	copy := Clone(src)

	var srcMesh, copyMesh *Node
	src.Walk(func(n *Node) bool {
		if n.Kind == KindSkinnedMesh {
			srcMesh = n
		}
		return true
	})
	copy.Walk(func(n *Node) bool {
		if n.Kind == KindSkinnedMesh {
			copyMesh = n
		}
		return true
	})

	if copyMesh == nil || copyMesh == srcMesh {
		t.Fatal("skinned mesh not cloned")
	}
	for i, b := range copyMesh.Skin.Bones {
		if b == srcMesh.Skin.Bones[i] {
			t.Errorf("bone %d still points into the source graph", i)
		}
		if b.Name != srcMesh.Skin.Bones[i].Name {
			t.Errorf("bone %d name %q != %q", i, b.Name, srcMesh.Skin.Bones[i].Name)
		}
	}

	// Mutating the clone must not change the source's stored signature.
	copyMesh.Skin.Bones[0].Name = "renamed"
	sig, _ := Signature(src)
	if sig != "hip|spine" {
		t.Errorf("source signature changed after clone mutation: %q", sig)
	}
}

func TestCloneDoesNotCopyReleaseHooks(t *testing.T) {
	src := skinnedRig("hip")
	released := 0
	src.OnRelease = func() { released++ }

	copy := Clone(src)
	Dispose(copy)
	if released != 0 {
		t.Error("disposing clone released source resources")
	}

	Dispose(src)
	Dispose(src)
	if released != 1 {
		t.Errorf("source released %d times, want 1", released)
	}
}

func TestSnapToGround(t *testing.T) {
	root := skinnedRig("hip")
	root.Translation = math.Vec3{Y: 5}

	SnapToGround(root)
	b := WorldBounds(root)
	if b.Min.Y > 1e-4 || b.Min.Y < -1e-4 {
		t.Errorf("lowest point after snap = %f, want 0", b.Min.Y)
	}
}

func TestSnapToGroundNoMeshes(t *testing.T) {
	root := NewNode("empty")
	root.Translation = math.Vec3{Y: 3}
	SnapToGround(root)
	if root.Translation.Y != 3 {
		t.Error("snap moved a graph with no bounds")
	}
}

func TestWorldBoundsScaled(t *testing.T) {
	root := skinnedRig("hip")
	root.Scale = math.Vec3{X: 2, Y: 2, Z: 2}

	b := WorldBounds(root)
	if b.Min.Y > -3.9 || b.Min.Y < -4.1 {
		t.Errorf("scaled min y = %f, want -4", b.Min.Y)
	}
}

func TestMaterialFromShadingModel(t *testing.T) {
	m, err := MaterialFromShadingModel("phong", "skin.png")
	if err != nil || m.Kind != MaterialStandard || m.DiffuseTexture != "skin.png" {
		t.Errorf("phong = %+v err=%v", m, err)
	}

	m, err = MaterialFromShadingModel("", "")
	if err != nil || m.Kind != MaterialUnlit {
		t.Errorf("empty model = %+v err=%v", m, err)
	}

	if _, err := MaterialFromShadingModel("toon", ""); err == nil {
		t.Error("unrecognized shading model accepted")
	}
}
