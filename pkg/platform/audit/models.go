package audit

import "time"

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies, storage backends and routing.
type EventCategory string

const (
	// CategoryProvenance covers events that document who changed map data and
	// when. These back the changeset ledger and require long retention.
	CategoryProvenance EventCategory = "provenance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// UserID is the acting-user identifier; empty for system-originated
	// changes such as importer runs.
	UserID string
	// Subject identifies the entity the event is about (locality uuid,
	// domain name, changeset id).
	Subject string
	Action  string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
}

type AuditEvent string

const (
	// Locality events
	EventLocalityCreated  AuditEvent = "locality_created"
	EventLocalityUpdated  AuditEvent = "locality_updated"
	EventChangesetCreated AuditEvent = "changeset_created"

	// Domain administration events
	EventDomainCreated      AuditEvent = "domain_created"
	EventDomainUpdated      AuditEvent = "domain_updated"
	EventSpecificationBound AuditEvent = "specification_bound"

	// Importer events
	EventImportCompleted AuditEvent = "import_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventLocalityCreated:  CategoryProvenance,
	EventLocalityUpdated:  CategoryProvenance,
	EventChangesetCreated: CategoryProvenance,

	EventDomainCreated:      CategoryOperations,
	EventDomainUpdated:      CategoryOperations,
	EventSpecificationBound: CategoryOperations,
	EventImportCompleted:    CategoryOperations,
}

// Category returns the category for an event action, defaulting to
// operations for unknown actions.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}
