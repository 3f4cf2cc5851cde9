package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
)

// Issue creates the first active certificate for a verified subject. A
// subject that already holds an active certificate, even an expired one, gets
// an AlreadyIssuedError carrying that certificate; renewal is the only way to
// replace it.
func (s *Service) Issue(ctx context.Context, subjectID id.SubjectID) (cv models.CertificateView, err error) {
	if subjectID.IsNil() {
		return models.CertificateView{}, dErrors.New(dErrors.CodeBadRequest, "subject ID is required")
	}
	ctx, finish := s.startOperation(ctx, opIssue, attribute.String("subject_id", subjectID.String()))
	defer func() { finish(err) }()

	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout())
	defer cancel()

	now := s.now(ctx)
	var (
		issued   models.Certificate
		rendered string
	)
	err = s.tx.RunInTx(ctx, subjectID, func(ctx context.Context, stores ports.Stores) error {
		rendered = ""
		subject, err := s.lockSubject(ctx, stores, subjectID)
		if err != nil {
			return err
		}
		if !subject.Verified {
			return dErrors.New(dErrors.CodeBadRequest, "subject is not verified")
		}
		if subject.HasActiveReference() {
			active, err := s.loadActive(ctx, stores, subject)
			if err != nil {
				return err
			}
			return errAlreadyIssued(subjectID, models.Project(active, now))
		}

		cert, err := s.mint(ctx, stores, subject, nil, now, &rendered)
		if err != nil {
			return err
		}
		issued = cert
		return nil
	})
	if err != nil {
		s.discardRendered(ctx, rendered)
		s.logFailure(ctx, opIssue, subjectID, err)
		return models.CertificateView{}, err
	}

	s.logAudit(ctx, audit.EventCertificateIssued, issued, "")
	return models.Project(issued, now), nil
}

// Renew replaces the subject's active certificate with a new one whose
// renewal count is one higher and whose previous pointer names the old one.
// The status change, the new certificate and the subject reference commit
// together; if any step fails the old certificate stays active. The old
// artifact is deleted only after commit and its failure is never fatal.
func (s *Service) Renew(ctx context.Context, subjectID id.SubjectID) (cv models.CertificateView, err error) {
	if subjectID.IsNil() {
		return models.CertificateView{}, dErrors.New(dErrors.CodeBadRequest, "subject ID is required")
	}
	ctx, finish := s.startOperation(ctx, opRenew, attribute.String("subject_id", subjectID.String()))
	defer func() { finish(err) }()

	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout())
	defer cancel()

	now := s.now(ctx)
	var (
		renewed  models.Certificate
		replaced models.Certificate
		rendered string
	)
	err = s.tx.RunInTx(ctx, subjectID, func(ctx context.Context, stores ports.Stores) error {
		rendered = ""
		subject, err := s.lockSubject(ctx, stores, subjectID)
		if err != nil {
			return err
		}
		if !subject.HasActiveReference() {
			return errNoActive(subjectID)
		}
		current, err := s.loadActive(ctx, stores, subject)
		if err != nil {
			return err
		}

		// Replace before creating so the store never sees two active
		// certificates for the subject.
		old := current.Clone()
		if err := old.ApplyReplacement(now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeConflict, "certificate cannot be replaced")
		}
		if err := stores.Certificates.Update(ctx, old); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to replace certificate")
		}

		cert, err := s.mint(ctx, stores, subject, &current, now, &rendered)
		if err != nil {
			return err
		}
		renewed = cert
		replaced = old
		return nil
	})
	if err != nil {
		s.discardRendered(ctx, rendered)
		s.logFailure(ctx, opRenew, subjectID, err)
		return models.CertificateView{}, err
	}

	s.logAudit(ctx, audit.EventCertificateReplaced, replaced, "")
	s.logAudit(ctx, audit.EventCertificateRenewed, renewed, "")
	if replaced.HasArtifact() {
		s.purgeArtifact(ctx, replaced, now)
	}
	return models.Project(renewed, now), nil
}

// Revoke marks a certificate revoked and clears the subject's active
// reference when it points at it. Revoking an already revoked certificate
// returns it unchanged. A replaced certificate cannot be revoked.
func (s *Service) Revoke(ctx context.Context, certID id.CertificateID, remarks string) (cv models.CertificateView, err error) {
	if certID.IsNil() {
		return models.CertificateView{}, dErrors.New(dErrors.CodeBadRequest, "certificate ID is required")
	}
	ctx, finish := s.startOperation(ctx, opRevoke, attribute.String("certificate_id", certID.String()))
	defer func() { finish(err) }()

	existing, err := s.certificates.FindByID(ctx, certID)
	if err != nil {
		return models.CertificateView{}, translateCertificateLookup(err)
	}

	now := s.now(ctx)
	var (
		revoked models.Certificate
		changed bool
	)
	err = s.tx.RunInTx(ctx, existing.SubjectID, func(ctx context.Context, stores ports.Stores) error {
		subject, err := s.lockSubject(ctx, stores, existing.SubjectID)
		if err != nil {
			return err
		}
		current, err := stores.Certificates.FindByID(ctx, certID)
		if err != nil {
			return translateCertificateLookup(err)
		}
		changed, err = current.ApplyRevocation(remarks, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "certificate cannot be revoked")
		}
		revoked = current
		if !changed {
			return nil
		}
		if err := stores.Certificates.Update(ctx, current); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke certificate")
		}
		if subject.ActiveCertificateID != nil && *subject.ActiveCertificateID == certID {
			subject.SetActive(nil, now)
			if err := stores.Subjects.Save(ctx, subject); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear active certificate")
			}
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, opRevoke, existing.SubjectID, err)
		return models.CertificateView{}, err
	}

	if changed {
		s.logAudit(ctx, audit.EventCertificateRevoked, revoked, remarks)
	}
	return models.Project(revoked, now), nil
}

// RegeneratePDF re-renders the document of any certificate under its
// existing number. Status, renewal count and chain are untouched. The old
// artifact is deleted first, under the subject lock, because a deterministic
// generator may write the new document to the same location.
func (s *Service) RegeneratePDF(ctx context.Context, certID id.CertificateID) (cv models.CertificateView, err error) {
	if certID.IsNil() {
		return models.CertificateView{}, dErrors.New(dErrors.CodeBadRequest, "certificate ID is required")
	}
	ctx, finish := s.startOperation(ctx, opRegenerate, attribute.String("certificate_id", certID.String()))
	defer func() { finish(err) }()

	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout())
	defer cancel()

	existing, err := s.certificates.FindByID(ctx, certID)
	if err != nil {
		return models.CertificateView{}, translateCertificateLookup(err)
	}

	now := s.now(ctx)
	var (
		regenerated models.Certificate
		rendered    string
		deleted     string
	)
	err = s.tx.RunInTx(ctx, existing.SubjectID, func(ctx context.Context, stores ports.Stores) error {
		rendered, deleted = "", ""
		subject, err := s.lockSubject(ctx, stores, existing.SubjectID)
		if err != nil {
			return err
		}
		current, err := stores.Certificates.FindByID(ctx, certID)
		if err != nil {
			return translateCertificateLookup(err)
		}
		if current.HasArtifact() {
			if delErr := s.deleteArtifact(ctx, current); delErr == nil {
				deleted = current.ArtifactLocation
			}
		}
		result, err := s.render(ctx, subject.Snapshot(), current.Number)
		if err != nil {
			return err
		}
		rendered = result.ArtifactLocation
		current.ApplyRegeneration(result.ArtifactLocation, now)
		if err := stores.Certificates.Update(ctx, current); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store regenerated certificate")
		}
		regenerated = current
		return nil
	})
	if err != nil {
		// The old document is gone even though the transaction rolled back,
		// unless the failed attempt wrote a new one over the same location.
		sameLocation := rendered != "" && rendered == deleted
		if rendered != "" && !sameLocation {
			s.discardRendered(ctx, rendered)
		}
		if deleted != "" && !sameLocation {
			s.recordArtifactState(ctx, existing.SubjectID, certID, func(c *models.Certificate) {
				if c.ArtifactLocation == deleted {
					c.MarkArtifactDeleted(now)
				}
			})
		}
		s.logFailure(ctx, opRegenerate, existing.SubjectID, err)
		return models.CertificateView{}, err
	}

	s.logAudit(ctx, audit.EventCertificateRegenerated, regenerated, "")
	return models.Project(regenerated, now), nil
}

// mint allocates a number, renders the document and stores a new active
// certificate, then points the subject at it. previous is nil for a first
// issuance. rendered receives the artifact location as soon as it exists so
// the caller can discard it if the transaction rolls back.
func (s *Service) mint(
	ctx context.Context,
	stores ports.Stores,
	subject models.Subject,
	previous *models.Certificate,
	now time.Time,
	rendered *string,
) (models.Certificate, error) {
	scope, err := s.roles.ScopeFor(subject.Type, now)
	if err != nil {
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "subject cannot be numbered")
	}
	serial, err := s.allocate(ctx, scope)
	if err != nil {
		return models.Certificate{}, err
	}
	number := models.FormatNumber(scope, serial)

	result, err := s.render(ctx, subject.Snapshot(), number)
	if err != nil {
		return models.Certificate{}, err
	}
	*rendered = result.ArtifactLocation

	issueDate := result.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}
	cert := models.Certificate{
		ID:               id.NewCertificateID(),
		Number:           number,
		SubjectID:        subject.ID,
		SubjectType:      subject.Type,
		ArtifactLocation: result.ArtifactLocation,
		IssueDate:        issueDate,
		ExpiryDate:       s.expiry.ExpiryFor(issueDate),
		Status:           models.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if previous != nil {
		prevID := previous.ID
		cert.PreviousCertificateID = &prevID
		cert.RenewalCount = previous.RenewalCount + 1
	}

	if err := stores.Certificates.Create(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.Certificate{}, s.reportInvariant(ctx, subject.ID, cert.ID, "certificate number or active slot already taken: "+err.Error())
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
	}

	subject.SetActive(&cert.ID, now)
	if err := stores.Subjects.Save(ctx, subject); err != nil {
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update subject reference")
	}
	return cert, nil
}

func (s *Service) lockSubject(ctx context.Context, stores ports.Stores, subjectID id.SubjectID) (models.Subject, error) {
	subject, err := stores.Subjects.FindByIDForUpdate(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Subject{}, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return models.Subject{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	return subject, nil
}

// loadActive resolves the subject's active reference and checks that it
// names an active certificate of that subject.
func (s *Service) loadActive(ctx context.Context, stores ports.Stores, subject models.Subject) (models.Certificate, error) {
	certID := *subject.ActiveCertificateID
	cert, err := stores.Certificates.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Certificate{}, s.reportInvariant(ctx, subject.ID, certID, "active reference names a missing certificate")
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active certificate")
	}
	if reason := activeMismatch(subject, cert); reason != "" {
		return models.Certificate{}, s.reportInvariant(ctx, subject.ID, certID, reason)
	}
	return cert, nil
}

func activeMismatch(subject models.Subject, cert models.Certificate) string {
	if cert.SubjectID != subject.ID {
		return "active reference names another subject's certificate"
	}
	if cert.Status != models.StatusActive {
		return "active reference names a " + string(cert.Status) + " certificate"
	}
	return ""
}

func translateCertificateLookup(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
}
