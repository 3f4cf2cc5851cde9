// Package ports declares the collaborators the certificate lifecycle manager
// consumes. Implementations live in sibling packages or outside this module.
package ports

import (
	"context"
	"time"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/audit"
)

// RenderResult is what the document generator reports for a rendered artifact.
type RenderResult struct {
	ArtifactLocation string
	IssueDate        time.Time
	ExpiryDate       time.Time
}

// DocumentGenerator renders the credential document. It must be deterministic
// in the certificate number; errors are treated as transient.
type DocumentGenerator interface {
	Render(ctx context.Context, subject models.SubjectSnapshot, certificateNumber string) (RenderResult, error)
}

// ArtifactStore removes rendered documents. Deleting an absent artifact must
// return nil.
type ArtifactStore interface {
	Delete(ctx context.Context, location string) error
}

// SequenceAllocator hands out strictly increasing serials per scope. Two
// concurrent callers never receive the same value.
type SequenceAllocator interface {
	Next(ctx context.Context, scope models.Scope) (int64, error)
}

// AuditPublisher records lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// CertificateStore persists certificates. Certificates are never physically
// deleted; Create must reject a duplicate number.
type CertificateStore interface {
	Create(ctx context.Context, cert models.Certificate) error
	Update(ctx context.Context, cert models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (models.Certificate, error)
	FindByNumber(ctx context.Context, number string) (models.Certificate, error)
	// ListBySubject returns the subject's certificates newest first.
	ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]models.Certificate, error)
	// ListExpiringBetween returns certificates stored as active whose expiry
	// date falls within [from, to], soonest first.
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Certificate, error)
	ListPendingArtifactCleanup(ctx context.Context) ([]models.Certificate, error)
}

// SubjectStore persists certificate holders.
type SubjectStore interface {
	FindByID(ctx context.Context, subjectID id.SubjectID) (models.Subject, error)
	// FindByIDForUpdate locks the subject row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, subjectID id.SubjectID) (models.Subject, error)
	// Save upserts the subject, rejecting a stale Version with sentinel.ErrConflict.
	Save(ctx context.Context, subject models.Subject) error
}

// Stores groups the stores handed to a transaction callback.
type Stores struct {
	Certificates CertificateStore
	Subjects     SubjectStore
}

// StoreTx runs fn atomically. Calls for the same subject are serialized;
// if fn returns an error none of its writes are visible afterwards.
type StoreTx interface {
	RunInTx(ctx context.Context, subjectID id.SubjectID, fn func(ctx context.Context, stores Stores) error) error
	// View runs fn against one consistent snapshot of committed state, so
	// several reads never straddle another transaction's commit. fn must not
	// write.
	View(ctx context.Context, subjectID id.SubjectID, fn func(ctx context.Context, stores Stores) error) error
}
