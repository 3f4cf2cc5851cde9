package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	"certledger/internal/certificate/service/mocks"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/circuit"
)

var userNumberPattern = regexp.MustCompile(`^YM-CG-2025-11-\d{5}$`)

// TestLifecycleWalkthrough follows one subject through issue, renew, revoke,
// a rejected renew and a regeneration of the original certificate.
func (s *ServiceSuite) TestLifecycleWalkthrough() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)

	// Issue
	first := s.mustIssue(subject.ID)
	s.Regexp(userNumberPattern, first.Number)
	s.Equal("YM-CG-2025-11-00001", first.Number)
	s.Equal(0, first.RenewalCount)
	s.Nil(first.PreviousCertificateID)
	s.Equal(models.StatusActive, first.Status)
	s.Equal(models.StatusActive, first.EffectiveStatus)
	s.Equal(time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC), first.ExpiryDate)
	s.Require().NotNil(s.storedSubject(subject.ID).ActiveCertificateID)
	s.Equal(first.ID, *s.storedSubject(subject.ID).ActiveCertificateID)

	// Renew
	s.expectRender(1)
	s.mockArtifacts.EXPECT().Delete(gomock.Any(), first.ArtifactLocation).Return(nil)
	second, err := s.service.Renew(ctx, subject.ID)
	s.Require().NoError(err)

	replaced := s.storedCertificate(first.ID)
	s.Equal(models.StatusReplaced, replaced.Status)
	s.True(replaced.ArtifactDeleted)
	s.Equal(1, second.RenewalCount)
	s.Require().NotNil(second.PreviousCertificateID)
	s.Equal(first.ID, *second.PreviousCertificateID)
	s.Equal(models.StatusActive, second.Status)
	s.Equal("YM-CG-2025-11-00002", second.Number)
	s.Equal(second.ID, *s.storedSubject(subject.ID).ActiveCertificateID)

	// Revoke
	revoked, err := s.service.Revoke(ctx, second.ID, "policy violation")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)
	s.Equal("policy violation", revoked.Remarks)
	s.Require().NotNil(revoked.RevokedAt)
	s.Nil(s.storedSubject(subject.ID).ActiveCertificateID)

	// Renew after revocation
	_, err = s.service.Renew(ctx, subject.ID)
	s.Require().Error(err)
	var noActive *NoActiveCertificateError
	s.Require().ErrorAs(err, &noActive)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// Regenerate the replaced original
	s.mockGenerator.EXPECT().
		Render(gomock.Any(), gomock.Any(), first.Number).
		Return(ports.RenderResult{ArtifactLocation: "certificates/regenerated/" + first.Number + ".pdf"}, nil)
	regenerated, err := s.service.RegeneratePDF(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal("certificates/regenerated/"+first.Number+".pdf", regenerated.ArtifactLocation)
	s.Equal(first.Number, regenerated.Number)
	s.Equal(models.StatusReplaced, regenerated.Status)
	s.Equal(0, regenerated.RenewalCount)
	s.False(regenerated.ArtifactDeleted)

	s.assertSingleActive(subject.ID)
	s.Equal([]string{
		string(audit.EventCertificateIssued),
		string(audit.EventCertificateReplaced),
		string(audit.EventCertificateRenewed),
		string(audit.EventCertificateRevoked),
		string(audit.EventCertificateRegenerated),
	}, s.auditActions(subject.ID))
}

func (s *ServiceSuite) TestIssue() {
	ctx := context.Background()

	s.Run("vendors are numbered with their own prefix", func() {
		vendor := s.seedSubject(models.SubjectTypeVendor)
		view := s.mustIssue(vendor.ID)
		s.Equal("YV-CG-2025-11-00001", view.Number)
	})

	s.Run("second issue returns the active certificate in the error", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)

		_, err := s.service.Issue(ctx, subject.ID)
		s.Require().Error(err)
		var issued *AlreadyIssuedError
		s.Require().ErrorAs(err, &issued)
		s.Equal(first.ID, issued.Active.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.assertSingleActive(subject.ID)
	})

	s.Run("expired but active certificate still blocks issuance", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)

		s.now = first.ExpiryDate.Add(time.Hour)
		defer func() { s.now = testNow }()

		_, err := s.service.Issue(ctx, subject.ID)
		var issued *AlreadyIssuedError
		s.Require().ErrorAs(err, &issued)
		s.Equal(models.StatusExpired, issued.Active.EffectiveStatus)
		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
	})

	s.Run("unverified subject is rejected", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		stored := s.storedSubject(subject.ID)
		stored.Verified = false
		s.Require().NoError(s.subjects.Save(ctx, stored))

		_, err := s.service.Issue(ctx, subject.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown subject", func() {
		_, err := s.service.Issue(ctx, id.NewSubjectID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("nil subject", func() {
		_, err := s.service.Issue(ctx, id.SubjectID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestIssue_RenderRetries() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	unavailable := errors.New("pdf service returned 503")

	gomock.InOrder(
		s.mockGenerator.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).Return(ports.RenderResult{}, unavailable),
		s.mockGenerator.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).Return(ports.RenderResult{}, unavailable),
		s.mockGenerator.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ models.SubjectSnapshot, number string) (ports.RenderResult, error) {
				return ports.RenderResult{ArtifactLocation: artifactFor(number)}, nil
			}),
	)

	view, err := s.service.Issue(ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, view.Status)
}

func (s *ServiceSuite) TestIssue_RenderFailureLeavesNoTrace() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	s.mockGenerator.EXPECT().
		Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ports.RenderResult{}, errors.New("pdf service returned 503")).
		Times(defaultMaxAttempts)

	_, err := s.service.Issue(ctx, subject.ID)
	s.Require().Error(err)
	var renderErr *RenderError
	s.Require().ErrorAs(err, &renderErr)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	history, err := s.certificates.ListBySubject(ctx, subject.ID)
	s.Require().NoError(err)
	s.Empty(history)
	s.Nil(s.storedSubject(subject.ID).ActiveCertificateID)
	s.Contains(s.auditActions(subject.ID), string(audit.EventLifecycleFailed))
}

func (s *ServiceSuite) TestIssue_AllocationFailure() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	allocator := mocks.NewMockSequenceAllocator(s.ctrl)
	allocator.EXPECT().Next(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("connection refused")).Times(defaultMaxAttempts)
	svc := s.newService(allocator)

	_, err := svc.Issue(ctx, subject.ID)
	s.Require().Error(err)
	var allocErr *AllocationError
	s.Require().ErrorAs(err, &allocErr)
	s.Equal("YM-CG-2025-11", allocErr.Scope)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Nil(s.storedSubject(subject.ID).ActiveCertificateID)
}

// TestRenew_Atomicity verifies that a failure after the old certificate was
// marked replaced rolls the whole renewal back.
func (s *ServiceSuite) TestRenew_Atomicity() {
	ctx := context.Background()

	s.Run("render failure", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		s.mockGenerator.EXPECT().
			Render(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ports.RenderResult{}, errors.New("template missing")).
			Times(defaultMaxAttempts)

		_, err := s.service.Renew(ctx, subject.ID)
		var renderErr *RenderError
		s.Require().ErrorAs(err, &renderErr)

		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
		s.Equal(first.ID, *s.storedSubject(subject.ID).ActiveCertificateID)
		history, err := s.certificates.ListBySubject(ctx, subject.ID)
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("render timeout is not retried", func() {
		svc := s.newService(s.allocator, WithRenderTimeout(20*time.Millisecond))
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		s.mockGenerator.EXPECT().
			Render(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ models.SubjectSnapshot, _ string) (ports.RenderResult, error) {
				<-ctx.Done()
				return ports.RenderResult{}, ctx.Err()
			}).
			Times(1)

		_, err := svc.Renew(ctx, subject.ID)
		var renderErr *RenderError
		s.Require().ErrorAs(err, &renderErr)
		s.ErrorIs(err, context.DeadlineExceeded)
		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
		s.Equal(first.ID, *s.storedSubject(subject.ID).ActiveCertificateID)
	})

	s.Run("late render result is discarded", func() {
		svc := s.newService(s.allocator, WithRenderTimeout(10*time.Millisecond))
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)
		var late string
		s.mockGenerator.EXPECT().
			Render(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ models.SubjectSnapshot, number string) (ports.RenderResult, error) {
				time.Sleep(40 * time.Millisecond)
				late = artifactFor(number)
				return ports.RenderResult{ArtifactLocation: late}, nil
			})
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, location string) error {
				s.Equal(late, location)
				return nil
			})

		_, err := svc.Renew(ctx, subject.ID)
		s.Require().Error(err)
		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
	})

	s.Run("store rejection after render discards the new artifact", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		first := s.mustIssue(subject.ID)

		// Occupy the number the allocator hands out next.
		scope, err := models.DefaultRolePolicy().ScopeFor(models.SubjectTypeUser, s.now)
		s.Require().NoError(err)
		taken := models.FormatNumber(scope, s.allocator.Current(scope)+1)
		s.Require().NoError(s.certificates.Create(ctx, models.Certificate{
			ID:          id.NewCertificateID(),
			Number:      taken,
			SubjectID:   id.NewSubjectID(),
			SubjectType: models.SubjectTypeUser,
			Status:      models.StatusRevoked,
		}))

		s.expectRender(1)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), artifactFor(taken)).Return(nil)

		_, err = s.service.Renew(ctx, subject.ID)
		var invariant *InvariantViolationError
		s.Require().ErrorAs(err, &invariant)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		s.Equal(models.StatusActive, s.storedCertificate(first.ID).Status)
		s.Equal(first.ID, *s.storedSubject(subject.ID).ActiveCertificateID)
		s.Contains(s.auditActions(subject.ID), string(audit.EventInvariantViolation))
	})
}

func (s *ServiceSuite) TestRenew_ArtifactDeleteFailureIsNotFatal() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	first := s.mustIssue(subject.ID)

	s.expectRender(1)
	s.mockArtifacts.EXPECT().Delete(gomock.Any(), first.ArtifactLocation).Return(errors.New("bucket permission denied"))

	renewed, err := s.service.Renew(ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, renewed.Status)

	old := s.storedCertificate(first.ID)
	s.Equal(models.StatusReplaced, old.Status)
	s.False(old.ArtifactDeleted)
	s.True(old.ArtifactCleanupPending)

	pending, err := s.service.ListPendingArtifactCleanup(ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(first.ID, pending[0].ID)
	s.Contains(s.auditActions(subject.ID), string(audit.EventArtifactCleanupFailed))
}

func (s *ServiceSuite) TestRenew_ChainMonotonicity() {
	ctx := context.Background()
	subject := s.seedSubject(models.SubjectTypeUser)
	s.mustIssue(subject.ID)

	const renewals = 4
	s.expectRender(renewals)
	s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil).Times(renewals)
	for i := 0; i < renewals; i++ {
		_, err := s.service.Renew(ctx, subject.ID)
		s.Require().NoError(err)
	}

	chain, err := s.service.VerifyChain(ctx, subject.ID)
	s.Require().NoError(err)
	s.Require().Len(chain, renewals+1)
	for i, c := range chain {
		s.Equal(renewals-i, c.RenewalCount)
	}
	s.assertSingleActive(subject.ID)
}

func (s *ServiceSuite) TestRevoke() {
	ctx := context.Background()

	s.Run("second revoke is a no-op", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)

		first, err := s.service.Revoke(ctx, issued.ID, "fraud")
		s.Require().NoError(err)
		s.now = s.now.Add(time.Hour)
		defer func() { s.now = testNow }()
		second, err := s.service.Revoke(ctx, issued.ID, "again")
		s.Require().NoError(err)

		s.Equal(models.StatusRevoked, second.Status)
		s.Equal("fraud", second.Remarks)
		s.Equal(*first.RevokedAt, *second.RevokedAt)
		s.Equal(1, countOf(s.auditActions(subject.ID), string(audit.EventCertificateRevoked)))
	})

	s.Run("replaced certificate cannot be revoked", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		s.expectRender(1)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.service.Renew(ctx, subject.ID)
		s.Require().NoError(err)

		_, err = s.service.Revoke(ctx, issued.ID, "late")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Equal(models.StatusReplaced, s.storedCertificate(issued.ID).Status)
	})

	s.Run("subject can be issued again after revocation", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		_, err := s.service.Revoke(ctx, issued.ID, "reapply")
		s.Require().NoError(err)

		again := s.mustIssue(subject.ID)
		s.Equal(0, again.RenewalCount)
		s.Nil(again.PreviousCertificateID)
		s.assertSingleActive(subject.ID)
	})

	s.Run("unknown certificate", func() {
		_, err := s.service.Revoke(ctx, id.NewCertificateID(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestRegeneratePDF() {
	ctx := context.Background()

	s.Run("active certificate keeps its number and status", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), issued.ArtifactLocation).Return(nil)
		s.expectRender(1)

		view, err := s.service.RegeneratePDF(ctx, issued.ID)
		s.Require().NoError(err)
		s.Equal(issued.Number, view.Number)
		s.Equal(issued.ArtifactLocation, view.ArtifactLocation)
		s.Equal(models.StatusActive, view.Status)
		s.Equal(issued.ID, *s.storedSubject(subject.ID).ActiveCertificateID)
	})

	s.Run("delete failure does not block regeneration", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), issued.ArtifactLocation).Return(errors.New("timeout"))
		s.expectRender(1)

		view, err := s.service.RegeneratePDF(ctx, issued.ID)
		s.Require().NoError(err)
		s.False(view.ArtifactDeleted)
	})

	s.Run("render failure after delete records the missing artifact", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), issued.ArtifactLocation).Return(nil)
		s.mockGenerator.EXPECT().
			Render(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ports.RenderResult{}, errors.New("pdf service returned 503")).
			Times(defaultMaxAttempts)

		_, err := s.service.RegeneratePDF(ctx, issued.ID)
		var renderErr *RenderError
		s.Require().ErrorAs(err, &renderErr)
		stored := s.storedCertificate(issued.ID)
		s.True(stored.ArtifactDeleted)
		s.Equal(models.StatusActive, stored.Status)
	})

	s.Run("old artifact is deleted while the subject is locked", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		entered := make(chan struct{})
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), issued.ArtifactLocation).
			DoAndReturn(func(context.Context, string) error {
				go func() {
					_ = s.service.tx.RunInTx(context.Background(), subject.ID, func(context.Context, ports.Stores) error {
						close(entered)
						return nil
					})
				}()
				select {
				case <-entered:
					s.Fail("another transaction for the subject ran during the delete")
				case <-time.After(20 * time.Millisecond):
				}
				return nil
			})
		s.expectRender(1)

		_, err := s.service.RegeneratePDF(ctx, issued.ID)
		s.Require().NoError(err)
		<-entered
	})

	s.Run("revoked certificate is regenerated from its stored state", func() {
		subject := s.seedSubject(models.SubjectTypeUser)
		issued := s.mustIssue(subject.ID)
		_, err := s.service.Revoke(ctx, issued.ID, "fraud")
		s.Require().NoError(err)
		s.mockArtifacts.EXPECT().Delete(gomock.Any(), issued.ArtifactLocation).Return(nil)
		s.expectRender(1)

		view, err := s.service.RegeneratePDF(ctx, issued.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, view.Status)
		s.Equal("fraud", view.Remarks)
	})
}

func (s *ServiceSuite) TestBreakerFailsFast() {
	ctx := context.Background()
	breaker := circuit.New("document-generator", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	svc := s.newService(s.allocator, WithBreaker(breaker), WithMaxAttempts(1))
	subject := s.seedSubject(models.SubjectTypeUser)

	s.mockGenerator.EXPECT().
		Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ports.RenderResult{}, errors.New("pdf service returned 503")).
		Times(2)

	for i := 0; i < 2; i++ {
		_, err := svc.Issue(ctx, subject.ID)
		s.Require().Error(err)
	}
	s.Equal(circuit.StateOpen, svc.BreakerState())

	_, err := svc.Issue(ctx, subject.ID)
	s.Require().ErrorIs(err, errBreakerOpen)
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailOperation() {
	ctx := context.Background()
	publisher := mocks.NewMockAuditPublisher(s.ctrl)
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable")).AnyTimes()
	svc := s.newService(s.allocator, WithAuditPublisher(publisher))
	subject := s.seedSubject(models.SubjectTypeUser)
	s.expectRender(1)

	view, err := svc.Issue(ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, view.Status)
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
