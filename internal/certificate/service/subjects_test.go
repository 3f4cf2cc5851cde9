package service

import (
	"context"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
)

func (s *ServiceSuite) TestRegisterSubject() {
	ctx := context.Background()

	s.Run("new subject can be issued a certificate", func() {
		subjectID := id.NewSubjectID()
		saved, err := s.service.RegisterSubject(ctx, models.Subject{
			ID:       subjectID,
			Type:     models.SubjectTypeVendor,
			Name:     "Boma Logistics",
			Region:   "CG",
			Verified: true,
		})
		s.Require().NoError(err)
		s.Equal(int64(1), saved.Version)
		s.Equal(s.now, saved.UpdatedAt)
		s.Equal(saved, s.storedSubject(subjectID))
		s.Contains(s.auditActions(subjectID), string(audit.EventSubjectRegistered))

		issued := s.mustIssue(subjectID)
		s.Equal(models.SubjectTypeVendor, issued.SubjectType)
	})

	s.Run("update keeps the active reference", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		stray := id.NewCertificateID()

		saved, err := s.service.RegisterSubject(ctx, models.Subject{
			ID:                  subject.ID,
			Type:                models.SubjectTypeUser,
			Name:                "Amara Okafor-Ndu",
			Region:              "CG",
			Verified:            false,
			ActiveCertificateID: &stray,
		})
		s.Require().NoError(err)
		s.Equal("Amara Okafor-Ndu", saved.Name)
		s.False(saved.Verified)
		s.Require().NotNil(saved.ActiveCertificateID)
		s.Equal(issued.ID, *saved.ActiveCertificateID)
		s.Equal(issued.ID, *s.storedSubject(subject.ID).ActiveCertificateID)
	})

	s.Run("type is fixed while a certificate is active", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		s.mustIssue(subject.ID)

		_, err := s.service.RegisterSubject(ctx, models.Subject{ID: subject.ID, Type: models.SubjectTypeVendor})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.SubjectTypeUser, s.storedSubject(subject.ID).Type)
	})

	s.Run("invalid input", func() {
		_, err := s.service.RegisterSubject(ctx, models.Subject{Type: models.SubjectTypeUser})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		_, err = s.service.RegisterSubject(ctx, models.Subject{ID: id.NewSubjectID(), Type: "robot"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestGetSubject() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)

	found, err := s.service.GetSubject(ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(subject.Name, found.Name)

	_, err = s.service.GetSubject(ctx, id.NewSubjectID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
