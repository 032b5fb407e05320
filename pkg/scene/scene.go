// Package scene provides the runtime scene graph produced by asset
// ingestion: a node hierarchy with meshes, bones, skinning data, and
// animation clips, plus the operations the showcase pipeline needs on it
// (skeleton signatures, skeleton-aware cloning, bounds, disposal).
package scene

import (
	"strings"

	"github.com/modelrow/modelrow/pkg/math"
)

// Kind classifies a node in the hierarchy.
type Kind int

const (
	// KindPlain is a grouping node with no payload.
	KindPlain Kind = iota
	// KindBone is a skeleton joint.
	KindBone
	// KindMesh is a static (unskinned) mesh.
	KindMesh
	// KindSkinnedMesh is a mesh deformed by a skeleton.
	KindSkinnedMesh
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindBone:
		return "bone"
	case KindMesh:
		return "mesh"
	case KindSkinnedMesh:
		return "skinned_mesh"
	default:
		return "node"
	}
}

// Node is one element of the scene hierarchy.
type Node struct {
	Name     string
	Kind     Kind
	Children []*Node

	// Local transform.
	Translation math.Vec3
	Rotation    math.Quat
	Scale       math.Vec3

	// Mesh is set for KindMesh and KindSkinnedMesh nodes.
	Mesh *Mesh
	// Skin is set for KindSkinnedMesh nodes and lists the bones in the
	// order the mesh's skinning data defines them.
	Skin *Skin

	// OnRelease frees any GPU-side resources backing this node. Installed
	// by whoever allocated the resources; nil for nodes with none.
	OnRelease func()
}

// Mesh holds the renderable payload of a mesh node.
type Mesh struct {
	VertexCount int
	IndexCount  int
	Bounds      Bounds
	Material    Material
}

// Skin binds a skinned mesh to its skeleton.
type Skin struct {
	Bones []*Node
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min math.Vec3
	Max math.Vec3
}

// Valid reports whether the bounds enclose anything.
func (b Bounds) Valid() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// Union returns the bounds enclosing both boxes.
func (b Bounds) Union(other Bounds) Bounds {
	if !b.Valid() {
		return other
	}
	if !other.Valid() {
		return b
	}
	return Bounds{Min: b.Min.Min(other.Min), Max: b.Max.Max(other.Max)}
}

// EmptyBounds returns an inverted box that unions cleanly.
func EmptyBounds() Bounds {
	const big = 3.4e38
	return Bounds{
		Min: math.Vec3{X: big, Y: big, Z: big},
		Max: math.Vec3{X: -big, Y: -big, Z: -big},
	}
}

// Clip is one named animation, ready to be bound to a mixer action.
type Clip struct {
	Name     string
	Duration float64
	Tracks   int
}

// NewNode returns a plain node with an identity transform.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Rotation: math.QuatIdentity(),
		Scale:    math.One(),
	}
}

// Walk visits n and all descendants depth-first, parent before children.
// Traversal stops when fn returns false.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// localMatrix returns the node's local transform matrix.
func (n *Node) localMatrix() math.Mat4 {
	return math.TRS(n.Translation, n.Rotation, n.Scale)
}

// WorldBounds returns the bounds of every mesh in the hierarchy,
// transformed into the root's space.
func WorldBounds(root *Node) Bounds {
	total := EmptyBounds()
	accumulateBounds(root, math.Identity(), &total)
	return total
}

func accumulateBounds(n *Node, parent math.Mat4, total *Bounds) {
	if n == nil {
		return
	}
	world := parent.Mul(n.localMatrix())
	if n.Mesh != nil && n.Mesh.Bounds.Valid() {
		*total = total.Union(transformBounds(n.Mesh.Bounds, world))
	}
	for _, c := range n.Children {
		accumulateBounds(c, world, total)
	}
}

// transformBounds transforms all eight box corners and re-wraps them.
func transformBounds(b Bounds, m math.Mat4) Bounds {
	out := EmptyBounds()
	for i := 0; i < 8; i++ {
		p := math.Vec3{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z}
		if i&1 != 0 {
			p.X = b.Max.X
		}
		if i&2 != 0 {
			p.Y = b.Max.Y
		}
		if i&4 != 0 {
			p.Z = b.Max.Z
		}
		tp := m.TransformPoint(p)
		out.Min = out.Min.Min(tp)
		out.Max = out.Max.Max(tp)
	}
	return out
}

// SnapToGround shifts root so the model's lowest point sits on y=0.
// No-op when the hierarchy contains no mesh bounds.
func SnapToGround(root *Node) {
	b := WorldBounds(root)
	if !b.Valid() {
		return
	}
	root.Translation.Y -= b.Min.Y
}

// Dispose releases GPU-side resources for the whole hierarchy. Each node's
// release hook runs at most once; calling Dispose again is a no-op.
func Dispose(root *Node) {
	root.Walk(func(n *Node) bool {
		if n.OnRelease != nil {
			n.OnRelease()
			n.OnRelease = nil
		}
		return true
	})
}

// SignatureDelimiter joins bone names in a skeleton signature.
const SignatureDelimiter = "|"

// Signature computes the skeleton compatibility signature of a hierarchy.
//
// The bone list of the first skinned mesh found by depth-first traversal is
// used, in skin order (the order the skinning data defines, not traversal
// order). When no skinned mesh exists, all loose bone nodes are collected in
// traversal order instead. Names are trimmed, lower-cased, and joined with
// SignatureDelimiter; empty names are dropped. ok is false when neither
// source yields a name.
//
// The signature is bone names only. Skeletons with identical name lists but
// different bind poses compare equal; that permissive match is deliberate
// and downstream consumers depend on it.
func Signature(root *Node) (sig string, ok bool) {
	var firstSkin *Skin
	root.Walk(func(n *Node) bool {
		if n.Kind == KindSkinnedMesh && n.Skin != nil && firstSkin == nil {
			firstSkin = n.Skin
			return false
		}
		return true
	})

	var names []string
	if firstSkin != nil {
		for _, b := range firstSkin.Bones {
			if name := canonicalBoneName(b.Name); name != "" {
				names = append(names, name)
			}
		}
	} else {
		root.Walk(func(n *Node) bool {
			if n.Kind == KindBone {
				if name := canonicalBoneName(n.Name); name != "" {
					names = append(names, name)
				}
			}
			return true
		})
	}

	if len(names) == 0 {
		return "", false
	}
	return strings.Join(names, SignatureDelimiter), true
}

func canonicalBoneName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// HasSkinnedMesh reports whether any node in the hierarchy is a skinned
// mesh. Packs are classified as model packs exactly when this is true.
func HasSkinnedMesh(root *Node) bool {
	found := false
	root.Walk(func(n *Node) bool {
		if n.Kind == KindSkinnedMesh {
			found = true
			return false
		}
		return true
	})
	return found
}

// Clone deep-copies the hierarchy. The copy is skeleton-aware: skin bone
// references on cloned meshes point at the cloned bones, never back into
// the source graph. Release hooks are not copied; the clone owns no GPU
// resources until its consumer allocates them.
func Clone(root *Node) *Node {
	if root == nil {
		return nil
	}
	mapping := make(map[*Node]*Node)
	copied := cloneStructure(root, mapping)

	// Second pass: rebind skins through the node mapping.
	copied.Walk(func(n *Node) bool {
		if n.Skin != nil {
			bones := make([]*Node, len(n.Skin.Bones))
			for i, b := range n.Skin.Bones {
				if cb, ok := mapping[b]; ok {
					bones[i] = cb
				} else {
					// Bone outside the cloned hierarchy; keep the
					// original reference so the name list survives.
					bones[i] = b
				}
			}
			n.Skin = &Skin{Bones: bones}
		}
		return true
	})
	return copied
}

func cloneStructure(n *Node, mapping map[*Node]*Node) *Node {
	c := &Node{
		Name:        n.Name,
		Kind:        n.Kind,
		Translation: n.Translation,
		Rotation:    n.Rotation,
		Scale:       n.Scale,
		Skin:        n.Skin,
	}
	if n.Mesh != nil {
		mesh := *n.Mesh
		c.Mesh = &mesh
	}
	mapping[n] = c
	for _, child := range n.Children {
		c.Children = append(c.Children, cloneStructure(child, mapping))
	}
	return c
}
