// Package domain holds identifier types shared across bounded contexts.
//
// IDs are distinct named types over uuid.UUID so a SubjectID can never be passed
// where a CertificateID is expected. Parse functions are the trust boundary:
// they reject empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"github.com/google/uuid"

	dErrors "certledger/pkg/domain-errors"
)

// SubjectID identifies a certificate holder (a user or a vendor).
type SubjectID uuid.UUID

// CertificateID identifies a single issued certificate record.
type CertificateID uuid.UUID

// NewSubjectID returns a fresh random SubjectID.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// NewCertificateID returns a fresh random CertificateID.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// ParseSubjectID parses and validates a subject identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject ID")
	if err != nil {
		return SubjectID{}, err
	}
	return SubjectID(u), nil
}

// ParseCertificateID parses and validates a certificate identifier.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate ID")
	if err != nil {
		return CertificateID{}, err
	}
	return CertificateID(u), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
