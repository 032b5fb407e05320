package fbx

import (
	"errors"
	"fmt"
	"strings"

	vecmath "github.com/modelrow/modelrow/pkg/math"
	"github.com/modelrow/modelrow/pkg/scene"
)

// ktimePerSecond is the FBX time unit: 1/46186158000 of a second.
const ktimePerSecond = 46186158000.0

// ErrNoObjects means the file parsed but carries no object definitions.
var ErrNoObjects = errors.New("FBX file has no Objects section")

// TextureRef records one texture reference encountered while loading.
type TextureRef struct {
	// Ref is the reference exactly as authored in the file.
	Ref string
	// Resolved is the reference after resolver substitution; equal to Ref
	// when no resolver is installed or nothing matched.
	Resolved string
	// Err is the fetch/validation error for this texture, nil on success
	// or when no fetcher is installed. Texture failures do not fail the
	// load.
	Err error
}

// Result is a fully loaded asset.
type Result struct {
	Root           *scene.Node
	Clips          []scene.Clip
	Textures       []TextureRef
	HasSkinnedMesh bool
}

// Loader turns binary FBX data into a scene graph. Every embedded texture
// reference passes through Resolve before Fetch sees it, so texture loads
// never depend on the absolute or host-relative paths baked into the file.
type Loader struct {
	// Resolve maps an authored texture reference to a usable handle.
	// Optional; identity when nil.
	Resolve func(ref string) string
	// Fetch retrieves and validates the texture behind a resolved handle.
	// Optional; texture errors are recorded per reference, not returned.
	Fetch func(resolved string) error
}

// Load parses and interprets data. A parse failure propagates; callers must
// not register a partially built asset.
func (l *Loader) Load(data []byte) (*Result, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return l.build(doc)
}

// fbx object ids as found in the Objects section.
type object struct {
	id    int64
	name  string
	class string
	node  *Node
}

type connection struct {
	src, dst int64
	prop     string // set for OP connections
}

func (l *Loader) build(doc *Document) (*Result, error) {
	var objectsNode, connectionsNode *Node
	for _, n := range doc.Nodes {
		switch n.Name {
		case "Objects":
			objectsNode = n
		case "Connections":
			connectionsNode = n
		}
	}
	if objectsNode == nil {
		return nil, ErrNoObjects
	}

	// Index objects by id, bucketed by record type.
	objects := make(map[int64]*object)
	byType := make(map[string][]*object)
	for _, child := range objectsNode.Children {
		obj := &object{
			id:    child.PropInt(0),
			name:  objectName(child.PropString(1)),
			class: child.PropString(2),
			node:  child,
		}
		objects[obj.id] = obj
		byType[child.Name] = append(byType[child.Name], obj)
	}

	var conns []connection
	if connectionsNode != nil {
		for _, c := range connectionsNode.Children {
			if c.Name != "C" {
				continue
			}
			conn := connection{src: c.PropInt(1), dst: c.PropInt(2)}
			if c.PropString(0) == "OP" {
				conn.prop = c.PropString(3)
			}
			conns = append(conns, conn)
		}
	}

	g := newGraphBuilder(objects, byType, conns)
	root := g.buildHierarchy()
	clips := g.buildClips()
	textures := l.resolveTextures(g.textureRefs())

	// Patch resolved diffuse references into the materials after the fact:
	// the graph builder records authored refs, consumers want handles.
	resolvedBy := make(map[string]string, len(textures))
	for _, t := range textures {
		resolvedBy[t.Ref] = t.Resolved
	}
	root.Walk(func(n *scene.Node) bool {
		if n.Mesh != nil && n.Mesh.Material.DiffuseTexture != "" {
			if r, ok := resolvedBy[n.Mesh.Material.DiffuseTexture]; ok {
				n.Mesh.Material.DiffuseTexture = r
			}
		}
		return true
	})

	return &Result{
		Root:           root,
		Clips:          clips,
		Textures:       textures,
		HasSkinnedMesh: scene.HasSkinnedMesh(root),
	}, nil
}

func (l *Loader) resolveTextures(refs []string) []TextureRef {
	out := make([]TextureRef, 0, len(refs))
	for _, ref := range refs {
		t := TextureRef{Ref: ref, Resolved: ref}
		if l.Resolve != nil {
			t.Resolved = l.Resolve(ref)
		}
		if l.Fetch != nil {
			t.Err = l.Fetch(t.Resolved)
		}
		out = append(out, t)
	}
	return out
}

// objectName strips the "Name\x00\x01Class" suffix convention.
func objectName(s string) string {
	if i := strings.Index(s, "\x00\x01"); i >= 0 {
		return s[:i]
	}
	return s
}

// graphBuilder resolves connections into a scene hierarchy.
type graphBuilder struct {
	objects map[int64]*object
	byType  map[string][]*object
	conns   []connection

	parentOf     map[int64]int64   // model -> parent model (or 0)
	geometryOf   map[int64]int64   // model -> geometry
	materialOf   map[int64]int64   // model -> material
	skinOf       map[int64]int64   // geometry -> skin deformer
	clustersOf   map[int64][]int64 // skin -> clusters, connection order
	boneOfClus   map[int64]int64   // cluster -> bone model
	texOfMat     map[int64]int64   // material -> texture
	layersOf     map[int64][]int64 // stack -> layers
	curveNodesOf map[int64][]int64 // layer -> curve nodes

	sceneNodes map[int64]*scene.Node
}

func newGraphBuilder(objects map[int64]*object, byType map[string][]*object, conns []connection) *graphBuilder {
	g := &graphBuilder{
		objects:      objects,
		byType:       byType,
		conns:        conns,
		parentOf:     make(map[int64]int64),
		geometryOf:   make(map[int64]int64),
		materialOf:   make(map[int64]int64),
		skinOf:       make(map[int64]int64),
		clustersOf:   make(map[int64][]int64),
		boneOfClus:   make(map[int64]int64),
		texOfMat:     make(map[int64]int64),
		layersOf:     make(map[int64][]int64),
		curveNodesOf: make(map[int64][]int64),
		sceneNodes:   make(map[int64]*scene.Node),
	}
	g.classifyConnections()
	return g
}

func (g *graphBuilder) kindOf(id int64) string {
	if obj, ok := g.objects[id]; ok {
		return obj.node.Name
	}
	return ""
}

func (g *graphBuilder) classifyConnections() {
	for _, c := range g.conns {
		srcKind := g.kindOf(c.src)
		dstKind := g.kindOf(c.dst)

		switch {
		case srcKind == "Model" && (c.dst == 0 || dstKind == "Model"):
			g.parentOf[c.src] = c.dst
		case srcKind == "Geometry" && dstKind == "Model":
			g.geometryOf[c.dst] = c.src
		case srcKind == "Material" && dstKind == "Model":
			g.materialOf[c.dst] = c.src
		case srcKind == "Deformer" && dstKind == "Geometry":
			if g.objects[c.src].class == "Skin" {
				g.skinOf[c.dst] = c.src
			}
		case srcKind == "Deformer" && dstKind == "Deformer":
			if g.objects[c.src].class == "Cluster" && g.objects[c.dst].class == "Skin" {
				g.clustersOf[c.dst] = append(g.clustersOf[c.dst], c.src)
			}
		case srcKind == "Model" && dstKind == "Deformer":
			if g.objects[c.dst].class == "Cluster" {
				g.boneOfClus[c.dst] = c.src
			}
		case srcKind == "Texture" && dstKind == "Material":
			g.texOfMat[c.dst] = c.src
		case srcKind == "AnimationLayer" && dstKind == "AnimationStack":
			g.layersOf[c.dst] = append(g.layersOf[c.dst], c.src)
		case srcKind == "AnimationCurveNode" && dstKind == "AnimationLayer":
			g.curveNodesOf[c.dst] = append(g.curveNodesOf[c.dst], c.src)
		}
	}
}

// buildHierarchy creates one scene node per Model and wires parent/child
// relationships. Models whose parent is the implicit document root (id 0)
// or missing hang off a synthetic root node.
func (g *graphBuilder) buildHierarchy() *scene.Node {
	root := scene.NewNode("scene")

	models := g.byType["Model"]
	for _, m := range models {
		g.sceneNodes[m.id] = g.buildModelNode(m)
	}

	// Skins reference bone nodes by id and a mesh may be defined before
	// its bones, so they can only be wired once every model node exists.
	for _, m := range models {
		node := g.sceneNodes[m.id]
		if node.Kind != scene.KindSkinnedMesh {
			continue
		}
		node.Skin = g.buildSkin(g.skinOf[g.geometryOf[m.id]])
	}

	for _, m := range models {
		node := g.sceneNodes[m.id]
		parentID, ok := g.parentOf[m.id]
		if parent, have := g.sceneNodes[parentID]; ok && have {
			parent.Children = append(parent.Children, node)
		} else {
			root.Children = append(root.Children, node)
		}
	}

	return root
}

func (g *graphBuilder) buildModelNode(m *object) *scene.Node {
	node := scene.NewNode(m.name)
	applyLocalTransform(node, m.node)

	switch {
	case m.class == "LimbNode":
		node.Kind = scene.KindBone
	default:
		geomID, hasGeom := g.geometryOf[m.id]
		if !hasGeom {
			node.Kind = scene.KindPlain
			break
		}

		node.Mesh = g.buildMesh(geomID, m.id)
		if _, skinned := g.skinOf[geomID]; skinned {
			node.Kind = scene.KindSkinnedMesh
		} else {
			node.Kind = scene.KindMesh
		}
	}

	return node
}

func (g *graphBuilder) buildMesh(geomID, modelID int64) *scene.Mesh {
	mesh := &scene.Mesh{Bounds: scene.EmptyBounds()}

	if geom, ok := g.objects[geomID]; ok {
		if verts := geom.node.FindChild("Vertices"); verts != nil && len(verts.Props) > 0 {
			coords := verts.Props[0].Floats
			mesh.VertexCount = len(coords) / 3
			for i := 0; i+2 < len(coords); i += 3 {
				p := vecmath.Vec3{X: float32(coords[i]), Y: float32(coords[i+1]), Z: float32(coords[i+2])}
				mesh.Bounds.Min = mesh.Bounds.Min.Min(p)
				mesh.Bounds.Max = mesh.Bounds.Max.Max(p)
			}
		}
		if idx := geom.node.FindChild("PolygonVertexIndex"); idx != nil && len(idx.Props) > 0 {
			mesh.IndexCount = len(idx.Props[0].Ints)
		}
	}

	mesh.Material = g.buildMaterial(modelID)
	return mesh
}

func (g *graphBuilder) buildMaterial(modelID int64) scene.Material {
	matID, ok := g.materialOf[modelID]
	if !ok {
		return scene.UnlitMaterial()
	}
	mat := g.objects[matID]

	shading := ""
	if sm := mat.node.FindChild("ShadingModel"); sm != nil {
		shading = strings.ToLower(sm.PropString(0))
	}

	diffuse := ""
	if texID, ok := g.texOfMat[matID]; ok {
		diffuse = textureFileRef(g.objects[texID].node)
	}

	m, err := scene.MaterialFromShadingModel(shading, diffuse)
	if err != nil {
		// Unknown shading models degrade to unlit rather than failing the
		// whole mesh.
		m = scene.UnlitMaterial()
		m.DiffuseTexture = diffuse
	}
	return m
}

func (g *graphBuilder) buildSkin(skinID int64) *scene.Skin {
	skin := &scene.Skin{}
	for _, clusterID := range g.clustersOf[skinID] {
		boneID, ok := g.boneOfClus[clusterID]
		if !ok {
			continue
		}
		if boneNode, ok := g.sceneNodes[boneID]; ok {
			skin.Bones = append(skin.Bones, boneNode)
		}
	}
	return skin
}

func (g *graphBuilder) buildClips() []scene.Clip {
	var clips []scene.Clip
	for _, stack := range g.byType["AnimationStack"] {
		clip := scene.Clip{Name: stack.name}
		if stop, ok := property70(stack.node, "LocalStop"); ok {
			clip.Duration = float64(stop) / ktimePerSecond
		}
		for _, layerID := range g.layersOf[stack.id] {
			clip.Tracks += len(g.curveNodesOf[layerID])
		}
		clips = append(clips, clip)
	}
	return clips
}

// textureRefs collects authored file references from Texture and Video
// objects, deduplicated in definition order.
func (g *graphBuilder) textureRefs() []string {
	var refs []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	for _, t := range g.byType["Texture"] {
		add(textureFileRef(t.node))
	}
	for _, v := range g.byType["Video"] {
		add(textureFileRef(v.node))
	}
	return refs
}

// textureFileRef prefers the relative reference over the absolute one.
func textureFileRef(n *Node) string {
	for _, name := range []string{"RelativeFilename", "FileName", "Filename"} {
		if c := n.FindChild(name); c != nil {
			if ref := c.PropString(0); ref != "" {
				return ref
			}
		}
	}
	return ""
}

// applyLocalTransform reads Lcl Translation/Rotation/Scaling from a model's
// Properties70 block.
func applyLocalTransform(node *scene.Node, model *Node) {
	props := model.FindChild("Properties70")
	if props == nil {
		return
	}
	for _, p := range props.Children {
		if p.Name != "P" || len(p.Props) < 7 {
			continue
		}
		x := float32(p.PropFloat(4))
		y := float32(p.PropFloat(5))
		z := float32(p.PropFloat(6))
		switch p.PropString(0) {
		case "Lcl Translation":
			node.Translation = vecmath.Vec3{X: x, Y: y, Z: z}
		case "Lcl Rotation":
			node.Rotation = vecmath.QuatFromEulerDegrees(x, y, z)
		case "Lcl Scaling":
			node.Scale = vecmath.Vec3{X: x, Y: y, Z: z}
		}
	}
}

// property70 reads a single-value numeric entry from a Properties70 block.
func property70(n *Node, name string) (int64, bool) {
	props := n.FindChild("Properties70")
	if props == nil {
		return 0, false
	}
	for _, p := range props.Children {
		if p.Name == "P" && p.PropString(0) == name && len(p.Props) >= 5 {
			return p.PropInt(4), true
		}
	}
	return 0, false
}

// DescribeVersion formats an FBX version number like "7.4".
func DescribeVersion(v uint32) string {
	return fmt.Sprintf("%d.%d", v/1000, v%1000/100)
}
