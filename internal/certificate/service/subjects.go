package service

import (
	"context"
	"errors"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/middleware/metadata"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// RegisterSubject creates a subject or updates its identity fields and
// verification flag. The active certificate reference is never taken from
// the input, and the type of a subject that already holds a certificate
// cannot change because its numbering scope follows the type.
func (s *Service) RegisterSubject(ctx context.Context, input models.Subject) (models.Subject, error) {
	if input.ID.IsNil() {
		return models.Subject{}, dErrors.New(dErrors.CodeBadRequest, "subject ID is required")
	}
	if !input.Type.IsValid() {
		return models.Subject{}, dErrors.New(dErrors.CodeBadRequest, "subject type must be user or vendor")
	}

	now := s.now(ctx)
	var saved models.Subject
	err := s.tx.RunInTx(ctx, input.ID, func(ctx context.Context, stores ports.Stores) error {
		subject, err := stores.Subjects.FindByIDForUpdate(ctx, input.ID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			subject = models.Subject{ID: input.ID, Type: input.Type}
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
		case subject.Type != input.Type && subject.HasActiveReference():
			return dErrors.New(dErrors.CodeConflict, "subject type cannot change while a certificate is active")
		}
		subject.Type = input.Type
		subject.Name = input.Name
		subject.Email = input.Email
		subject.Phone = input.Phone
		subject.Region = input.Region
		subject.Verified = input.Verified
		subject.UpdatedAt = now
		if err := stores.Subjects.Save(ctx, subject); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "subject changed concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save subject")
		}
		saved = subject
		saved.Version++
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "register_subject", input.ID, err)
		return models.Subject{}, err
	}

	s.logger.InfoContext(ctx, string(audit.EventSubjectRegistered),
		"event", string(audit.EventSubjectRegistered),
		"log_type", "audit",
		"subject_id", saved.ID.String(),
		"verified", saved.Verified,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.Event{
		SubjectID:   saved.ID.String(),
		SubjectType: string(saved.Type),
		Action:      string(audit.EventSubjectRegistered),
		Severity:    audit.SeverityInfo,
		RequestID:   requestcontext.RequestID(ctx),
		ActorID:     requestcontext.ActorID(ctx),
		ClientIP:    metadata.GetClientIP(ctx),
	})
	return saved, nil
}

// GetSubject returns one subject as stored.
func (s *Service) GetSubject(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	return findSubject(ctx, s.subjects, subjectID)
}
