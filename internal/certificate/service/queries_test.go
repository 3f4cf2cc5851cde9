package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
)

func (s *ServiceSuite) TestGetActiveCertificate() {
	ctx := context.Background()

	s.Run("none issued", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		view, err := s.service.GetActiveCertificate(ctx, subject.ID)
		s.Require().NoError(err)
		s.Nil(view)
	})

	s.Run("active certificate", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		view, err := s.service.GetActiveCertificate(ctx, subject.ID)
		s.Require().NoError(err)
		s.Require().NotNil(view)
		s.Equal(issued.ID, view.ID)
		s.True(view.IsCurrentlyValid())
	})

	s.Run("expiry is evaluated on read and never persisted", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		s.now = issued.ExpiryDate.Add(time.Second)
		defer func() { s.now = testNow }()

		view, err := s.service.GetActiveCertificate(ctx, subject.ID)
		s.Require().NoError(err)
		s.Require().NotNil(view)
		s.Equal(models.StatusActive, view.Status)
		s.Equal(models.StatusExpired, view.EffectiveStatus)
		s.False(view.IsCurrentlyValid())
		s.Equal(models.StatusActive, s.storedCertificate(issued.ID).Status)
	})

	s.Run("reference to a replaced certificate is reported", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		s.expectRender(1)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.service.Renew(ctx, subject.ID)
		s.Require().NoError(err)

		s.pointSubjectAt(subject.ID, first.ID)
		before := testutil.ToFloat64(s.metrics.InvariantViolations)

		view, err := s.service.GetActiveCertificate(ctx, subject.ID)
		s.Require().NoError(err)
		s.Nil(view)
		s.Equal(before+1, testutil.ToFloat64(s.metrics.InvariantViolations))
		s.Contains(s.auditActions(subject.ID), string(audit.EventInvariantViolation))
	})

	s.Run("reference to a missing certificate is reported", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		s.pointSubjectAt(subject.ID, id.NewCertificateID())

		view, err := s.service.GetActiveCertificate(ctx, subject.ID)
		s.Require().NoError(err)
		s.Nil(view)
	})

	s.Run("unknown subject", func() {
		_, err := s.service.GetActiveCertificate(ctx, id.NewSubjectID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("renewal in flight stays invisible to readers", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		before := testutil.ToFloat64(s.metrics.InvariantViolations)

		type observation struct {
			active    *models.CertificateView
			activeErr error
			chain     []models.CertificateView
			chainErr  error
		}
		var (
			mu   sync.Mutex
			seen []observation
		)
		s.mockGenerator.EXPECT().
			Render(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, models.SubjectSnapshot, string) (ports.RenderResult, error) {
				var o observation
				o.active, o.activeErr = s.service.GetActiveCertificate(ctx, subject.ID)
				o.chain, o.chainErr = s.service.VerifyChain(ctx, subject.ID)
				mu.Lock()
				seen = append(seen, o)
				mu.Unlock()
				return ports.RenderResult{}, errors.New("pdf service returned 503")
			}).
			Times(defaultMaxAttempts)

		_, err := s.service.Renew(ctx, subject.ID)
		s.Require().Error(err)

		s.Require().Len(seen, defaultMaxAttempts)
		for _, o := range seen {
			s.Require().NoError(o.activeErr)
			s.Require().NotNil(o.active)
			s.Equal(first.ID, o.active.ID)
			s.Equal(models.StatusActive, o.active.Status)
			s.Require().NoError(o.chainErr)
			s.Len(o.chain, 1)
		}
		s.Equal(before, testutil.ToFloat64(s.metrics.InvariantViolations))
		s.NotContains(s.auditActions(subject.ID), string(audit.EventInvariantViolation))
		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
	})
}

func (s *ServiceSuite) TestGetHistory() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	first := s.mustIssue(subject.ID)
	s.expectRender(1)
	s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil)
	second, err := s.service.Renew(ctx, subject.ID)
	s.Require().NoError(err)
	_, err = s.service.Revoke(ctx, second.ID, "closed account")
	s.Require().NoError(err)
	third := s.mustIssue(subject.ID)

	history, err := s.service.GetHistory(ctx, subject.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(third.ID, history[0].ID)
	s.Equal(second.ID, history[1].ID)
	s.Equal(first.ID, history[2].ID)
	s.Equal(models.StatusRevoked, history[1].Status)
	s.Equal(models.StatusReplaced, history[2].Status)

	_, err = s.service.GetHistory(ctx, id.NewSubjectID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestGetExpiringWithin() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	issued := s.mustIssue(subject.ID)
	revokedSubject := s.seedSubject(models.SubjectTypeVendor)
	revoked := s.mustIssue(revokedSubject.ID)
	_, err := s.service.Revoke(ctx, revoked.ID, "")
	s.Require().NoError(err)

	soon, err := s.service.GetExpiringWithin(ctx, 30)
	s.Require().NoError(err)
	s.Empty(soon)

	s.now = time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	defer func() { s.now = testNow }()
	soon, err = s.service.GetExpiringWithin(ctx, 30)
	s.Require().NoError(err)
	s.Require().Len(soon, 1)
	s.Equal(issued.ID, soon[0].ID)

	_, err = s.service.GetExpiringWithin(ctx, -1)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	all, err := s.service.GetExpiringWithin(ctx, maxExpiringDays)
	s.Require().NoError(err)
	s.Len(all, 1)

	for _, days := range []int{maxExpiringDays + 1, 200000, math.MaxInt} {
		_, err = s.service.GetExpiringWithin(ctx, days)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "days=%d", days)
	}
}

func (s *ServiceSuite) TestGetCertificate() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeVendor)
	issued := s.mustIssue(subject.ID)

	view, err := s.service.GetCertificate(ctx, issued.ID)
	s.Require().NoError(err)
	s.Equal(issued.Number, view.Number)

	_, err = s.service.GetCertificate(ctx, id.NewCertificateID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.GetCertificate(ctx, id.CertificateID{})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestVerifyChain() {
	ctx := context.Background()

	s.Run("subject without certificates", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		chain, err := s.service.VerifyChain(ctx, subject.ID)
		s.Require().NoError(err)
		s.Empty(chain)
	})

	s.Run("tampered reference", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		s.expectRender(1)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.service.Renew(ctx, subject.ID)
		s.Require().NoError(err)
		s.pointSubjectAt(subject.ID, first.ID)

		_, err = s.service.VerifyChain(ctx, subject.ID)
		var invariant *InvariantViolationError
		s.Require().ErrorAs(err, &invariant)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("second active certificate", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		rogue := s.storedCertificate(issued.ID)
		rogue.ID = id.NewCertificateID()
		rogue.Number = "YM-CG-2025-11-99999"
		s.Require().NoError(s.certificates.Create(ctx, rogue))

		_, err := s.service.VerifyChain(ctx, subject.ID)
		var invariant *InvariantViolationError
		s.Require().ErrorAs(err, &invariant)
		s.Equal("more than one active certificate", invariant.Reason)
	})
}

// pointSubjectAt overwrites the subject's active reference outside the
// lifecycle manager, simulating a corrupted store.
func (s *ServiceSuite) pointSubjectAt(subjectID id.SubjectID, certID id.CertificateID) {
	subject := s.storedSubject(subjectID)
	subject.ActiveCertificateID = &certID
	s.Require().NoError(s.subjects.Save(context.Background(), subject))
}
