package models

// Attribute is a reusable named field definition, independent of any domain.
// Immutable once referenced by a specification; renames are out of scope.
type Attribute struct {
	Key string `json:"key"`
}

// Domain is a named category of locality. Its specification set defines
// which attributes a locality of this domain carries.
type Domain struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// TemplateFragment is a rendering template, validated for syntactic
	// correctness at save time but opaque to the core.
	TemplateFragment string `json:"template_fragment"`
}

// Specification binds one attribute to one domain.
//
// Invariants:
//   - Unique per (domain, attribute)
//   - Archived specifications stay resolvable so historical locality values
//     keep their keys; they just stop appearing in the editable set.
type Specification struct {
	ID         int64     `json:"id"`
	DomainName string    `json:"domain"`
	Attribute  Attribute `json:"attribute"`
	Required   bool      `json:"required"`
	Archived   bool      `json:"-"`
}

// Key is shorthand for the bound attribute's key.
func (s Specification) Key() string { return s.Attribute.Key }
