package animation

import (
	"errors"
	"fmt"
)

var ErrInvalidEntity = errors.New("invalid entity")

const DefaultEntityType = "default"

type VectorPatch struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

func (p *VectorPatch) applyTo(v Vector3) Vector3 {
	if p == nil {
		return v
	}
	if p.X != nil {
		v.X = *p.X
	}
	if p.Y != nil {
		v.Y = *p.Y
	}
	if p.Z != nil {
		v.Z = *p.Z
	}
	return v
}

// EntityPatch is a partial entity. Nil fields leave the target untouched.
type EntityPatch struct {
	ID       string         `json:"id,omitempty"`
	Name     *string        `json:"name,omitempty"`
	Type     *string        `json:"type,omitempty"`
	Position *VectorPatch   `json:"position,omitempty"`
	Rotation *VectorPatch   `json:"rotation,omitempty"`
	Scale    *VectorPatch   `json:"scale,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntity builds an entity from a partial description. Missing transform
// axes fall back to the identity transform.
func NewEntity(id string, p EntityPatch) (Entity, error) {
	if id == "" {
		return Entity{}, fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	e := Entity{
		ID:       id,
		Name:     fmt.Sprintf("Character %s", shortID(id, 6)),
		Type:     DefaultEntityType,
		Position: ZeroVector,
		Rotation: ZeroVector,
		Scale:    UnitScale,
		Metadata: map[string]any{},
	}
	return e.Merge(p), nil
}

// Merge reconciles p into e field by field: scalars overwrite, transform
// vectors overwrite per axis, metadata is a shallow union where p wins.
// The id is immutable.
func (e Entity) Merge(p EntityPatch) Entity {
	out := e.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	out.Position = p.Position.applyTo(out.Position)
	out.Rotation = p.Rotation.applyTo(out.Rotation)
	out.Scale = p.Scale.applyTo(out.Scale)
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func (e Entity) Clone() Entity {
	out := e
	out.Metadata = cloneMap(e.Metadata)
	return out
}

func (e Entity) Reset() Entity {
	out := e.Clone()
	out.Position = ZeroVector
	out.Rotation = ZeroVector
	out.Scale = UnitScale
	return out
}
