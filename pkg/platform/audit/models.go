package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance:
	// issuing, renewing and revoking credentials.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that should feed alerting pipelines,
	// such as detected invariant violations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for routing security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category          EventCategory
	Timestamp         time.Time
	SubjectID         string
	SubjectType       string
	CertificateID     string
	CertificateNumber string
	Action            string
	Reason            string
	Severity          Severity
	// RequestID is the correlation ID handed back to callers on failure.
	RequestID string
	// ActorID is the admin that triggered the action.
	ActorID string
	// ClientIP is where the admin request came from.
	ClientIP string
}

type AuditEvent string

const (
	EventCertificateIssued      AuditEvent = "certificate_issued"
	EventCertificateRenewed     AuditEvent = "certificate_renewed"
	EventCertificateReplaced    AuditEvent = "certificate_replaced"
	EventCertificateRevoked     AuditEvent = "certificate_revoked"
	EventCertificateRegenerated AuditEvent = "certificate_regenerated"
	EventArtifactCleanupFailed  AuditEvent = "certificate_artifact_cleanup_failed"
	EventInvariantViolation     AuditEvent = "certificate_invariant_violation"
	EventLifecycleFailed        AuditEvent = "certificate_lifecycle_failed"
	EventSubjectRegistered      AuditEvent = "subject_registered"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateIssued:   CategoryCompliance,
	EventCertificateRenewed:  CategoryCompliance,
	EventCertificateReplaced: CategoryCompliance,
	EventCertificateRevoked:  CategoryCompliance,
	EventSubjectRegistered:   CategoryCompliance,

	EventInvariantViolation: CategorySecurity,

	EventCertificateRegenerated: CategoryOperations,
	EventArtifactCleanupFailed:  CategoryOperations,
	EventLifecycleFailed:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID string) ([]Event, error)
}

// OutboxEntry is a persisted event awaiting publication to the event bus.
type OutboxEntry struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}
