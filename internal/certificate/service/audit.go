package service

import (
	"context"
	"log/slog"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/middleware/metadata"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// logAudit writes a structured audit log line and emits the event. Emit
// failures are logged; they never undo a committed lifecycle change.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, cert models.Certificate, reason string) {
	requestID := requestcontext.RequestID(ctx)
	actorID := requestcontext.ActorID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"subject_id", cert.SubjectID.String(),
		"certificate_id", cert.ID.String(),
		"certificate_number", cert.Number,
		"request_id", requestID,
	)
	severity := audit.SeverityInfo
	if event == audit.EventArtifactCleanupFailed {
		severity = audit.SeverityWarning
	}
	s.emit(ctx, audit.Event{
		SubjectID:         cert.SubjectID.String(),
		SubjectType:       string(cert.SubjectType),
		CertificateID:     cert.ID.String(),
		CertificateNumber: cert.Number,
		Action:            string(event),
		Reason:            reason,
		Severity:          severity,
		RequestID:         requestID,
		ActorID:           actorID,
		ClientIP:          metadata.GetClientIP(ctx),
	})
}

// emit hands event to the publisher outside any store transaction in ctx.
// Events raised inside a transaction that later rolls back, such as an
// invariant violation, must still be recorded.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(txcontext.Detach(ctx), event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"event", event.Action,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

// reportInvariant logs, counts and audits a detected invariant violation and
// returns the error to hand back to the caller.
func (s *Service) reportInvariant(ctx context.Context, subjectID id.SubjectID, certID id.CertificateID, reason string) error {
	requestID := requestcontext.RequestID(ctx)
	s.logger.ErrorContext(ctx, "certificate invariant violated",
		"subject_id", subjectID.String(),
		"certificate_id", certID.String(),
		"reason", reason,
		"request_id", requestID,
	)
	if s.metrics != nil {
		s.metrics.IncInvariantViolation()
	}
	s.emit(ctx, audit.Event{
		SubjectID:     subjectID.String(),
		CertificateID: certID.String(),
		Action:        string(audit.EventInvariantViolation),
		Reason:        reason,
		Severity:      audit.SeverityCritical,
		RequestID:     requestID,
		ActorID:       requestcontext.ActorID(ctx),
		ClientIP:      metadata.GetClientIP(ctx),
	})
	return errInvariant(subjectID, certID, reason)
}

// logFailure records a failed lifecycle operation. Caller mistakes are logged
// at info, transient failures at warn, everything else at error.
func (s *Service) logFailure(ctx context.Context, op string, subjectID id.SubjectID, err error) {
	level := slog.LevelError
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeConflict:
		level = slog.LevelInfo
	case dErrors.CodeUnavailable, dErrors.CodeTimeout:
		level = slog.LevelWarn
	}
	requestID := requestcontext.RequestID(ctx)
	s.logger.Log(ctx, level, "certificate operation failed",
		"operation", op,
		"subject_id", subjectID.String(),
		"cause", failureCause(err),
		"request_id", requestID,
		"error", err,
	)
	if level != slog.LevelError {
		return
	}
	s.emit(ctx, audit.Event{
		SubjectID: subjectID.String(),
		Action:    string(audit.EventLifecycleFailed),
		Reason:    op + ": " + failureCause(err),
		Severity:  audit.SeverityWarning,
		RequestID: requestID,
		ActorID:   requestcontext.ActorID(ctx),
		ClientIP:  metadata.GetClientIP(ctx),
	})
}
