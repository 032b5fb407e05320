package scene

import "fmt"

// MaterialKind enumerates the closed set of material variants the loader
// normalizes source materials into. Source formats describe materials as
// open property bags; the pipeline commits to a tagged variant instead of
// probing capability flags at use sites.
type MaterialKind int

const (
	// MaterialUnlit ignores lighting entirely.
	MaterialUnlit MaterialKind = iota
	// MaterialStandard is a lit surface with an optional diffuse texture.
	MaterialStandard
)

// String returns a human-readable material kind name.
func (k MaterialKind) String() string {
	switch k {
	case MaterialStandard:
		return "standard"
	default:
		return "unlit"
	}
}

// Material describes how a mesh surface is shaded.
type Material struct {
	Kind           MaterialKind
	DiffuseTexture string // resolved texture reference, empty when untextured
	DoubleSided    bool
}

// StandardMaterial returns a lit material with the given diffuse texture.
func StandardMaterial(diffuseTexture string) Material {
	return Material{Kind: MaterialStandard, DiffuseTexture: diffuseTexture}
}

// UnlitMaterial returns an unshaded material.
func UnlitMaterial() Material {
	return Material{Kind: MaterialUnlit}
}

// MaterialFromShadingModel converts a source shading-model string into a
// variant. Lit models (phong, lambert, blinn) normalize to standard;
// everything else is unlit.
func MaterialFromShadingModel(model, diffuseTexture string) (Material, error) {
	switch model {
	case "phong", "lambert", "blinn":
		return StandardMaterial(diffuseTexture), nil
	case "", "unknown", "unlit":
		m := UnlitMaterial()
		m.DiffuseTexture = diffuseTexture
		return m, nil
	default:
		return Material{}, fmt.Errorf("unrecognized shading model %q", model)
	}
}
