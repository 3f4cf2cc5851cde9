package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/requestcontext"
)

var (
	errBreakerOpen   = errors.New("document generator circuit open")
	errEmptyArtifact = errors.New("document generator returned no artifact location")
)

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)
}

// allocate obtains the next serial for scope, retrying transient failures.
func (s *Service) allocate(ctx context.Context, scope models.Scope) (int64, error) {
	var serial int64
	operation := func() error {
		value, err := s.allocator.Next(ctx, scope)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvalidInput) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			s.logger.WarnContext(ctx, "serial allocation attempt failed",
				"scope", scope.Key(),
				"error", err,
			)
			return err
		}
		serial = value
		return nil
	}
	if err := backoff.Retry(operation, s.retryPolicy(ctx)); err != nil {
		return 0, errAllocation(scope, err)
	}
	return serial, nil
}

// render calls the document generator under RenderTimeout. Failures are
// retried; a timeout is not, since the operation as a whole must then fail.
func (s *Service) render(ctx context.Context, subject models.SubjectSnapshot, number string) (ports.RenderResult, error) {
	var result ports.RenderResult
	operation := func() error {
		if s.breaker != nil && !s.breaker.Allow() {
			return backoff.Permanent(errBreakerOpen)
		}

		renderCtx, cancel := context.WithTimeout(ctx, s.renderTimeout)
		defer cancel()
		start := time.Now()
		res, err := s.generator.Render(renderCtx, subject, number)
		if s.metrics != nil {
			s.metrics.ObserveRender(time.Since(start).Seconds())
		}
		if err == nil && renderCtx.Err() != nil {
			// The generator ignored the deadline; its late result is discarded.
			s.discardRendered(ctx, res.ArtifactLocation)
			err = renderCtx.Err()
		}
		if err == nil && res.ArtifactLocation == "" {
			err = errEmptyArtifact
		}
		if err != nil {
			s.recordRenderFailure(ctx)
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			s.logger.WarnContext(ctx, "document render attempt failed",
				"certificate_number", number,
				"error", err,
			)
			return err
		}
		s.recordRenderSuccess(ctx)
		result = res
		return nil
	}
	if err := backoff.Retry(operation, s.retryPolicy(ctx)); err != nil {
		return ports.RenderResult{}, errRender(number, err)
	}
	return result, nil
}

func (s *Service) recordRenderFailure(ctx context.Context) {
	if s.breaker == nil {
		return
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.ErrorContext(ctx, "document generator circuit opened", "breaker", s.breaker.Name())
	}
}

func (s *Service) recordRenderSuccess(ctx context.Context) {
	if s.breaker == nil {
		return
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "document generator circuit closed", "breaker", s.breaker.Name())
	}
}

// BreakerState reports the document generator breaker state, or closed when
// no breaker is configured.
func (s *Service) BreakerState() circuit.State {
	if s.breaker == nil {
		return circuit.StateClosed
	}
	return s.breaker.State()
}

// deleteArtifact removes cert's artifact. Failures are logged, counted and
// audited and returned as an ArtifactDeleteError for the caller to record.
func (s *Service) deleteArtifact(ctx context.Context, cert models.Certificate) error {
	if err := s.artifacts.Delete(ctx, cert.ArtifactLocation); err != nil {
		delErr := &ArtifactDeleteError{CertificateID: cert.ID, Location: cert.ArtifactLocation, Err: err}
		s.logger.ErrorContext(ctx, "artifact deletion failed",
			"certificate_id", cert.ID.String(),
			"certificate_number", cert.Number,
			"artifact_location", cert.ArtifactLocation,
			"error", delErr,
		)
		if s.metrics != nil {
			s.metrics.IncArtifactCleanup("failed")
		}
		s.logAudit(ctx, audit.EventArtifactCleanupFailed, cert, err.Error())
		return delErr
	}
	if s.metrics != nil {
		s.metrics.IncArtifactCleanup("deleted")
	}
	return nil
}

// purgeArtifact deletes a committed certificate's artifact and records the
// outcome on the certificate: deleted, or pending manual cleanup.
func (s *Service) purgeArtifact(ctx context.Context, cert models.Certificate, now time.Time) {
	if err := s.deleteArtifact(ctx, cert); err != nil {
		s.recordArtifactState(ctx, cert.SubjectID, cert.ID, func(c *models.Certificate) {
			c.MarkArtifactCleanupPending(now)
		})
		return
	}
	s.recordArtifactState(ctx, cert.SubjectID, cert.ID, func(c *models.Certificate) {
		c.MarkArtifactDeleted(now)
	})
}

// recordArtifactState applies mark to the stored certificate in its own
// transaction. Failure is logged only; the lifecycle change already committed.
func (s *Service) recordArtifactState(ctx context.Context, subjectID id.SubjectID, certID id.CertificateID, mark func(*models.Certificate)) {
	err := s.tx.RunInTx(context.WithoutCancel(ctx), subjectID, func(ctx context.Context, stores ports.Stores) error {
		current, err := stores.Certificates.FindByID(ctx, certID)
		if err != nil {
			return err
		}
		mark(&current)
		return stores.Certificates.Update(ctx, current)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record artifact state",
			"certificate_id", certID.String(),
			"error", err,
		)
	}
}

// discardRendered removes an artifact whose certificate was never committed.
func (s *Service) discardRendered(ctx context.Context, location string) {
	if location == "" {
		return
	}
	if err := s.artifacts.Delete(context.WithoutCancel(ctx), location); err != nil {
		s.logger.WarnContext(ctx, "failed to discard orphaned artifact",
			"artifact_location", location,
			"error", err,
		)
	}
}
