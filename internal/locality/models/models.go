package models

import (
	"encoding/json"

	"github.com/google/uuid"

	"gazetteer/pkg/geo"
)

// Locality is a geolocated record whose attribute shape is defined by its
// domain's specification set.
//
// Invariants:
//   - DomainName never changes after creation; the attribute shape is fixed
//     at birth.
//   - UpstreamID is globally unique and carries a source prefix so web
//     creates can never collide with imported identifiers.
//   - Version increases on every persisted mutation; an identical resubmit
//     persists nothing and leaves it untouched.
type Locality struct {
	UUID        string    `json:"uuid"`
	UpstreamID  string    `json:"upstream_id"`
	DomainName  string    `json:"domain"`
	Geom        geo.Point `json:"geom"`
	ChangesetID uuid.UUID `json:"changeset"`
	Version     int       `json:"version"`
}

// SetGeom applies a proposed geometry and reports whether it differed from
// the stored one. The dirty result gates changeset creation: a no-op
// geometry write must not pollute the audit trail.
func (l *Locality) SetGeom(p geo.Point) bool {
	if l.Geom == p {
		return false
	}
	l.Geom = p
	return true
}

// Value is one EAV row: the data stored for a (locality, specification)
// pair. The specification linkage is kept in the store; callers always
// address values by attribute key.
type Value struct {
	Key  string `json:"key"`
	Data string `json:"data"`
}

// Summary is the bounding-box query shape handed to the map and clustering
// collaborators.
type Summary struct {
	UUID    string    `json:"uuid"`
	Geom    geo.Point `json:"geom"`
	Version int       `json:"version"`
	// Author is serialized as user_id: the projection remaps the internal
	// changeset author field to the external-facing name.
	Author string `json:"user_id,omitempty"`
}

// Projection is the flat, typed representation of a locality: identity
// fields, geometry as two scalars, the materialized attribute map, and the
// changeset author remapped to the external user_id key.
type Projection struct {
	UUID    string
	Version int
	Geom    geo.Point
	Author  string
	Values  map[string]string
	// Repr is the optional rendered template fragment, when requested.
	Repr string
}

// Flat folds the projection into one mapping, suitable for template
// rendering and for the JSON wire shape. Attribute keys sit alongside the
// identity fields; the identity fields win on collision.
func (p Projection) Flat() map[string]any {
	out := make(map[string]any, len(p.Values)+6)
	for k, v := range p.Values {
		out[k] = v
	}
	out["uuid"] = p.UUID
	out["version"] = p.Version
	out["lon"] = p.Geom.Lon
	out["lat"] = p.Geom.Lat
	if p.Author != "" {
		out["user_id"] = p.Author
	}
	if p.Repr != "" {
		out["repr"] = p.Repr
	}
	return out
}

// MarshalJSON emits the flat mapping rather than the struct shape.
func (p Projection) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Flat())
}

// UnmarshalJSON rebuilds a projection from its flat mapping. Needed to read
// cached projections back without a second store round trip.
func (p *Projection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Values = make(map[string]string, len(raw))
	for key, msg := range raw {
		switch key {
		case "uuid":
			if err := json.Unmarshal(msg, &p.UUID); err != nil {
				return err
			}
		case "version":
			if err := json.Unmarshal(msg, &p.Version); err != nil {
				return err
			}
		case "lon":
			if err := json.Unmarshal(msg, &p.Geom.Lon); err != nil {
				return err
			}
		case "lat":
			if err := json.Unmarshal(msg, &p.Geom.Lat); err != nil {
				return err
			}
		case "user_id":
			if err := json.Unmarshal(msg, &p.Author); err != nil {
				return err
			}
		case "repr":
			if err := json.Unmarshal(msg, &p.Repr); err != nil {
				return err
			}
		default:
			var val string
			if err := json.Unmarshal(msg, &val); err != nil {
				return err
			}
			p.Values[key] = val
		}
	}
	return nil
}
