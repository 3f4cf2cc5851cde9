package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// maxExpiringDays bounds GetExpiringWithin so the window end stays a valid
// time.
const maxExpiringDays = 3650

// GetActiveCertificate returns the subject's active certificate with its
// effective status, or nil when there is none. A reference that does not name
// an active certificate of the subject is reported as an invariant violation
// and read as no active certificate.
func (s *Service) GetActiveCertificate(ctx context.Context, subjectID id.SubjectID) (*models.CertificateView, error) {
	var (
		active *models.Certificate
		broken *violation
	)
	err := s.tx.View(ctx, subjectID, func(ctx context.Context, stores ports.Stores) error {
		subject, err := findSubject(ctx, stores.Subjects, subjectID)
		if err != nil {
			return err
		}
		if !subject.HasActiveReference() {
			return nil
		}
		certID := *subject.ActiveCertificateID
		cert, err := stores.Certificates.FindByID(ctx, certID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				broken = &violation{certID: certID, reason: "active reference names a missing certificate"}
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active certificate")
		}
		if reason := activeMismatch(subject, cert); reason != "" {
			broken = &violation{certID: certID, reason: reason}
			return nil
		}
		active = &cert
		return nil
	})
	if err != nil {
		return nil, err
	}
	if broken != nil {
		_ = s.reportInvariant(ctx, subjectID, broken.certID, broken.reason)
		return nil, nil
	}
	if active == nil {
		return nil, nil
	}
	view := models.Project(*active, s.now(ctx))
	return &view, nil
}

// GetHistory returns every certificate the subject has held, newest first.
func (s *Service) GetHistory(ctx context.Context, subjectID id.SubjectID) ([]models.CertificateView, error) {
	var certs []models.Certificate
	err := s.tx.View(ctx, subjectID, func(ctx context.Context, stores ports.Stores) error {
		if _, err := findSubject(ctx, stores.Subjects, subjectID); err != nil {
			return err
		}
		var err error
		certs, err = stores.Certificates.ListBySubject(ctx, subjectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models.ProjectAll(certs, s.now(ctx)), nil
}

// GetExpiringWithin returns active certificates expiring between now and
// now plus days, soonest first.
func (s *Service) GetExpiringWithin(ctx context.Context, days int) ([]models.CertificateView, error) {
	if days < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "days must not be negative")
	}
	if days > maxExpiringDays {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("days must not exceed %d", maxExpiringDays))
	}
	now := s.now(ctx)
	certs, err := s.certificates.ListExpiringBetween(ctx, now, now.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expiring certificates")
	}
	return models.ProjectAll(certs, now), nil
}

// GetCertificate returns one certificate with its effective status.
func (s *Service) GetCertificate(ctx context.Context, certID id.CertificateID) (models.CertificateView, error) {
	if certID.IsNil() {
		return models.CertificateView{}, dErrors.New(dErrors.CodeBadRequest, "certificate ID is required")
	}
	cert, err := s.certificates.FindByID(ctx, certID)
	if err != nil {
		return models.CertificateView{}, translateCertificateLookup(err)
	}
	return models.Project(cert, s.now(ctx)), nil
}

// ListPendingArtifactCleanup returns certificates whose artifact deletion
// failed and needs manual cleanup.
func (s *Service) ListPendingArtifactCleanup(ctx context.Context) ([]models.CertificateView, error) {
	certs, err := s.certificates.ListPendingArtifactCleanup(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending artifact cleanup")
	}
	return models.ProjectAll(certs, s.now(ctx)), nil
}

// VerifyChain checks the subject's stored certificates against the lifecycle
// rules and returns the current renewal chain, newest first. It fails with an
// InvariantViolationError when more than one certificate is active, when the
// subject's reference disagrees with the active certificate, or when the
// chain is broken.
func (s *Service) VerifyChain(ctx context.Context, subjectID id.SubjectID) ([]models.CertificateView, error) {
	var (
		subject models.Subject
		certs   []models.Certificate
	)
	err := s.tx.View(ctx, subjectID, func(ctx context.Context, stores ports.Stores) error {
		var err error
		subject, err = findSubject(ctx, stores.Subjects, subjectID)
		if err != nil {
			return err
		}
		certs, err = stores.Certificates.ListBySubject(ctx, subjectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		if subject.HasActiveReference() {
			return nil, s.reportInvariant(ctx, subjectID, *subject.ActiveCertificateID, "active reference on a subject without certificates")
		}
		return nil, nil
	}

	byID := make(map[id.CertificateID]models.Certificate, len(certs))
	var active []models.Certificate
	for _, c := range certs {
		byID[c.ID] = c
		if c.Status == models.StatusActive {
			active = append(active, c)
		}
	}
	switch {
	case len(active) > 1:
		return nil, s.reportInvariant(ctx, subjectID, active[0].ID, "more than one active certificate")
	case len(active) == 1 && (subject.ActiveCertificateID == nil || *subject.ActiveCertificateID != active[0].ID):
		return nil, s.reportInvariant(ctx, subjectID, active[0].ID, "active certificate is not the subject's reference")
	case len(active) == 0 && subject.HasActiveReference():
		return nil, s.reportInvariant(ctx, subjectID, *subject.ActiveCertificateID, "active reference without an active certificate")
	}

	chain, err := models.WalkChain(certs[0], byID)
	if err != nil {
		var chainErr *models.ChainError
		if errors.As(err, &chainErr) {
			return nil, s.reportInvariant(ctx, subjectID, chainErr.CertificateID, chainErr.Reason)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to walk renewal chain")
	}
	return models.ProjectAll(chain, s.now(ctx)), nil
}

// violation is an invariant breach found inside a read snapshot, reported
// once the snapshot is released.
type violation struct {
	certID id.CertificateID
	reason string
}

func findSubject(ctx context.Context, subjects ports.SubjectStore, subjectID id.SubjectID) (models.Subject, error) {
	if subjectID.IsNil() {
		return models.Subject{}, dErrors.New(dErrors.CodeBadRequest, "subject ID is required")
	}
	subject, err := subjects.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Subject{}, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return models.Subject{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	return subject, nil
}
