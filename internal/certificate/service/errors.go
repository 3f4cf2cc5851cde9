package service

import (
	"errors"
	"fmt"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// The lifecycle error taxonomy. Every error the service returns is a coded
// dErrors.Error wrapping one of these, so transports switch on the code and
// callers that need detail use errors.As.

// AllocationError reports that no serial could be obtained. Transient.
type AllocationError struct {
	Scope string
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate serial for %s: %v", e.Scope, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// AlreadyIssuedError reports that the subject already holds an active
// certificate. Active carries it so a retried Issue can be treated as done.
type AlreadyIssuedError struct {
	SubjectID id.SubjectID
	Active    models.CertificateView
}

func (e *AlreadyIssuedError) Error() string {
	return fmt.Sprintf("subject %s already holds active certificate %s", e.SubjectID, e.Active.Number)
}

// NoActiveCertificateError reports that there is nothing to renew.
type NoActiveCertificateError struct {
	SubjectID id.SubjectID
}

func (e *NoActiveCertificateError) Error() string {
	return fmt.Sprintf("subject %s has no active certificate", e.SubjectID)
}

// RenderError reports a failed or timed-out document generator call. Transient.
type RenderError struct {
	Number string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render certificate %s: %v", e.Number, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ArtifactDeleteError reports a failed artifact purge. It is logged and
// recorded on the certificate, never returned from a lifecycle operation.
type ArtifactDeleteError struct {
	CertificateID id.CertificateID
	Location      string
	Err           error
}

func (e *ArtifactDeleteError) Error() string {
	return fmt.Sprintf("delete artifact %s of certificate %s: %v", e.Location, e.CertificateID, e.Err)
}

func (e *ArtifactDeleteError) Unwrap() error { return e.Err }

// InvariantViolationError reports stored state that breaks the lifecycle
// rules, such as an active reference to a non-active certificate. Fatal.
type InvariantViolationError struct {
	SubjectID     id.SubjectID
	CertificateID id.CertificateID
	Reason        string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated for subject %s certificate %s: %s", e.SubjectID, e.CertificateID, e.Reason)
}

func errAllocation(scope models.Scope, err error) error {
	return dErrors.Wrap(&AllocationError{Scope: scope.Key(), Err: err}, dErrors.CodeUnavailable, "certificate number allocation failed")
}

func errAlreadyIssued(subjectID id.SubjectID, active models.CertificateView) error {
	return dErrors.Wrap(&AlreadyIssuedError{SubjectID: subjectID, Active: active}, dErrors.CodeConflict, "subject already holds an active certificate")
}

func errNoActive(subjectID id.SubjectID) error {
	return dErrors.Wrap(&NoActiveCertificateError{SubjectID: subjectID}, dErrors.CodeConflict, "subject has no active certificate to renew")
}

func errRender(number string, err error) error {
	return dErrors.Wrap(&RenderError{Number: number, Err: err}, dErrors.CodeUnavailable, "certificate document rendering failed")
}

func errInvariant(subjectID id.SubjectID, certID id.CertificateID, reason string) error {
	return dErrors.Wrap(&InvariantViolationError{SubjectID: subjectID, CertificateID: certID, Reason: reason}, dErrors.CodeInternal, "certificate state is inconsistent")
}

// failureCause names the taxonomy member behind err for metrics.
func failureCause(err error) string {
	var (
		allocErr     *AllocationError
		issuedErr    *AlreadyIssuedError
		noActiveErr  *NoActiveCertificateError
		renderErr    *RenderError
		invariantErr *InvariantViolationError
	)
	switch {
	case errors.As(err, &allocErr):
		return "allocation"
	case errors.As(err, &issuedErr):
		return "already_issued"
	case errors.As(err, &noActiveErr):
		return "no_active"
	case errors.As(err, &renderErr):
		return "render"
	case errors.As(err, &invariantErr):
		return "invariant"
	}
	return string(dErrors.CodeOf(err))
}
