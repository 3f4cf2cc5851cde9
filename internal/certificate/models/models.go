package models

import (
	"fmt"
	"time"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// SubjectType tags which kind of holder a certificate belongs to.
type SubjectType string

const (
	SubjectTypeUser   SubjectType = "user"
	SubjectTypeVendor SubjectType = "vendor"
)

func (t SubjectType) IsValid() bool {
	return t == SubjectTypeUser || t == SubjectTypeVendor
}

func (t SubjectType) String() string { return string(t) }

// Status is the stored lifecycle state of a certificate. StatusExpired is only
// ever produced by EffectiveStatus; it is never written by the lifecycle manager.
type Status string

const (
	StatusActive   Status = "active"
	StatusReplaced Status = "replaced"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusReplaced, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Subject is a certificate holder. ActiveCertificateID is owned by the
// lifecycle manager and must only change inside its transactions.
type Subject struct {
	ID                  id.SubjectID
	Type                SubjectType
	Name                string
	Email               string
	Phone               string
	Region              string
	Verified            bool
	ActiveCertificateID *id.CertificateID
	Version             int64
	UpdatedAt           time.Time
}

// HasActiveReference reports whether the subject points at a certificate.
func (s *Subject) HasActiveReference() bool {
	return s.ActiveCertificateID != nil && !s.ActiveCertificateID.IsNil()
}

// SetActive moves the subject's active reference. Passing nil clears it.
func (s *Subject) SetActive(certID *id.CertificateID, now time.Time) {
	if certID == nil {
		s.ActiveCertificateID = nil
	} else {
		ref := *certID
		s.ActiveCertificateID = &ref
	}
	s.UpdatedAt = now
}

// Snapshot captures the subject fields handed to the document generator.
func (s *Subject) Snapshot() SubjectSnapshot {
	return SubjectSnapshot{
		ID:     s.ID,
		Type:   s.Type,
		Name:   s.Name,
		Email:  s.Email,
		Phone:  s.Phone,
		Region: s.Region,
	}
}

// SubjectSnapshot is an immutable copy of the subject data used for rendering.
type SubjectSnapshot struct {
	ID     id.SubjectID
	Type   SubjectType
	Name   string
	Email  string
	Phone  string
	Region string
}

// Certificate is one issued credential instance.
type Certificate struct {
	ID                    id.CertificateID
	Number                string
	SubjectID             id.SubjectID
	SubjectType           SubjectType
	ArtifactLocation      string
	IssueDate             time.Time
	ExpiryDate            time.Time
	RenewalCount          int
	PreviousCertificateID *id.CertificateID
	Status                Status
	ArtifactDeleted       bool
	// ArtifactCleanupPending marks a certificate whose artifact could not be
	// purged; it needs manual cleanup.
	ArtifactCleanupPending bool
	Remarks                string
	RevokedAt              *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (c *Certificate) IsActive() bool { return c.Status == StatusActive }

// HasArtifact reports whether a rendered document is still expected in storage.
func (c *Certificate) HasArtifact() bool {
	return c.ArtifactLocation != "" && !c.ArtifactDeleted
}

// CanTransition enforces the state machine: only active certificates move, and
// only to replaced or revoked.
func (c *Certificate) CanTransition(to Status) error {
	if c.Status == to {
		return nil
	}
	if !c.IsActive() {
		return fmt.Errorf("certificate %s is %s: %w", c.ID, c.Status, sentinel.ErrInvalidState)
	}
	if to != StatusReplaced && to != StatusRevoked {
		return fmt.Errorf("cannot move certificate %s to %s: %w", c.ID, to, sentinel.ErrInvalidState)
	}
	return nil
}

// ApplyReplacement marks the certificate as superseded by a renewal.
func (c *Certificate) ApplyReplacement(now time.Time) error {
	if err := c.CanTransition(StatusReplaced); err != nil {
		return err
	}
	c.Status = StatusReplaced
	c.UpdatedAt = now
	return nil
}

// ApplyRevocation revokes the certificate. It reports false when the
// certificate was already revoked so callers can treat the call as a no-op.
func (c *Certificate) ApplyRevocation(remarks string, now time.Time) (bool, error) {
	if c.Status == StatusRevoked {
		return false, nil
	}
	if err := c.CanTransition(StatusRevoked); err != nil {
		return false, err
	}
	c.Status = StatusRevoked
	c.Remarks = remarks
	revokedAt := now
	c.RevokedAt = &revokedAt
	c.UpdatedAt = now
	return true, nil
}

// MarkArtifactDeleted records a successful artifact purge.
func (c *Certificate) MarkArtifactDeleted(now time.Time) {
	c.ArtifactDeleted = true
	c.ArtifactCleanupPending = false
	c.UpdatedAt = now
}

// MarkArtifactCleanupPending records a failed purge for manual follow-up.
func (c *Certificate) MarkArtifactCleanupPending(now time.Time) {
	c.ArtifactCleanupPending = true
	c.UpdatedAt = now
}

// ApplyRegeneration points the certificate at a freshly rendered artifact.
// Status, renewal count and chain pointers are left untouched.
func (c *Certificate) ApplyRegeneration(location string, now time.Time) {
	c.ArtifactLocation = location
	c.ArtifactDeleted = false
	c.ArtifactCleanupPending = false
	c.UpdatedAt = now
}

// Clone returns a deep copy so stores never share pointers with callers.
func (c Certificate) Clone() Certificate {
	out := c
	if c.PreviousCertificateID != nil {
		prev := *c.PreviousCertificateID
		out.PreviousCertificateID = &prev
	}
	if c.RevokedAt != nil {
		at := *c.RevokedAt
		out.RevokedAt = &at
	}
	return out
}

// Clone returns a deep copy of the subject.
func (s Subject) Clone() Subject {
	out := s
	if s.ActiveCertificateID != nil {
		ref := *s.ActiveCertificateID
		out.ActiveCertificateID = &ref
	}
	return out
}
