package handler

import (
	"time"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
)

// RevokeRequest is the optional body of a revoke call.
type RevokeRequest struct {
	Remarks string `json:"remarks"`
}

// SubjectRequest registers or updates a subject. The active certificate is
// not settable here.
type SubjectRequest struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Region   string `json:"region"`
	Verified bool   `json:"verified"`
}

func (r SubjectRequest) toModel(subjectID id.SubjectID) models.Subject {
	return models.Subject{
		ID:       subjectID,
		Type:     models.SubjectType(r.Type),
		Name:     r.Name,
		Email:    r.Email,
		Phone:    r.Phone,
		Region:   r.Region,
		Verified: r.Verified,
	}
}

// SubjectResponse is the HTTP DTO for a subject.
type SubjectResponse struct {
	ID                  string    `json:"id"`
	Type                string    `json:"type"`
	Name                string    `json:"name"`
	Email               string    `json:"email,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	Region              string    `json:"region"`
	Verified            bool      `json:"verified"`
	ActiveCertificateID string    `json:"active_certificate_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toSubjectResponse(s models.Subject) SubjectResponse {
	resp := SubjectResponse{
		ID:        s.ID.String(),
		Type:      string(s.Type),
		Name:      s.Name,
		Email:     s.Email,
		Phone:     s.Phone,
		Region:    s.Region,
		Verified:  s.Verified,
		UpdatedAt: s.UpdatedAt,
	}
	if s.HasActiveReference() {
		resp.ActiveCertificateID = s.ActiveCertificateID.String()
	}
	return resp
}

// CertificateResponse is the HTTP DTO for a certificate. Status is the
// effective status; StoredStatus is what the lifecycle manager wrote.
type CertificateResponse struct {
	ID                     string     `json:"id"`
	Number                 string     `json:"number"`
	SubjectID              string     `json:"subject_id"`
	SubjectType            string     `json:"subject_type"`
	Status                 string     `json:"status"`
	StoredStatus           string     `json:"stored_status"`
	Valid                  bool       `json:"valid"`
	IssueDate              time.Time  `json:"issue_date"`
	ExpiryDate             time.Time  `json:"expiry_date"`
	RenewalCount           int        `json:"renewal_count"`
	PreviousCertificateID  string     `json:"previous_certificate_id,omitempty"`
	ArtifactLocation       string     `json:"artifact_location,omitempty"`
	ArtifactDeleted        bool       `json:"artifact_deleted"`
	ArtifactCleanupPending bool       `json:"artifact_cleanup_pending,omitempty"`
	Remarks                string     `json:"remarks,omitempty"`
	RevokedAt              *time.Time `json:"revoked_at,omitempty"`
}

// CertificateListResponse wraps a list of certificates.
type CertificateListResponse struct {
	Certificates []CertificateResponse `json:"certificates"`
	Total        int                   `json:"total"`
}

func toResponse(v models.CertificateView) CertificateResponse {
	resp := CertificateResponse{
		ID:                     v.ID.String(),
		Number:                 v.Number,
		SubjectID:              v.SubjectID.String(),
		SubjectType:            string(v.SubjectType),
		Status:                 string(v.EffectiveStatus),
		StoredStatus:           string(v.Status),
		Valid:                  v.IsCurrentlyValid(),
		IssueDate:              v.IssueDate,
		ExpiryDate:             v.ExpiryDate,
		RenewalCount:           v.RenewalCount,
		ArtifactDeleted:        v.ArtifactDeleted,
		ArtifactCleanupPending: v.ArtifactCleanupPending,
		Remarks:                v.Remarks,
		RevokedAt:              v.RevokedAt,
	}
	if v.PreviousCertificateID != nil {
		resp.PreviousCertificateID = v.PreviousCertificateID.String()
	}
	if !v.ArtifactDeleted {
		resp.ArtifactLocation = v.ArtifactLocation
	}
	return resp
}

func toListResponse(views []models.CertificateView) CertificateListResponse {
	certs := make([]CertificateResponse, 0, len(views))
	for _, v := range views {
		certs = append(certs, toResponse(v))
	}
	return CertificateListResponse{Certificates: certs, Total: len(certs)}
}
