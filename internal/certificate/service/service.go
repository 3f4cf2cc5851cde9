package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks certledger/internal/certificate/ports DocumentGenerator,ArtifactStore,SequenceAllocator,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/certificate/metrics"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	"certledger/pkg/platform/circuit"
)

var tracer = otel.Tracer("certledger.certificate")

const (
	defaultRenderTimeout     = 15 * time.Second
	defaultMaxAttempts       = 3
	defaultRetryInitial      = 100 * time.Millisecond
	defaultRetryMaxInterval  = 2 * time.Second
	operationTimeoutHeadroom = 5 * time.Second
)

const (
	opIssue      = "issue"
	opRenew      = "renew"
	opRevoke     = "revoke"
	opRegenerate = "regenerate"
)

// Service is the certificate lifecycle manager. It owns every transition of
// a certificate's status and of a subject's active reference; all writes for
// one operation happen inside a single StoreTx callback.
type Service struct {
	tx           ports.StoreTx
	certificates ports.CertificateStore
	subjects     ports.SubjectStore
	allocator    ports.SequenceAllocator
	generator    ports.DocumentGenerator
	artifacts    ports.ArtifactStore

	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	breaker        *circuit.Breaker

	roles         models.RolePolicy
	expiry        models.ExpiryPolicy
	renderTimeout time.Duration
	maxAttempts   int
	retryInitial  time.Duration
	clock         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBreaker guards the document generator. After repeated failures calls
// fail fast until the breaker's cooldown elapses.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func WithRolePolicy(p models.RolePolicy) Option {
	return func(s *Service) {
		if len(p.Prefixes) > 0 {
			s.roles = p
		}
	}
}

func WithExpiryPolicy(p models.ExpiryPolicy) Option {
	return func(s *Service) {
		s.expiry = p
	}
}

// WithRenderTimeout bounds each document generator call.
func WithRenderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.renderTimeout = d
		}
	}
}

// WithMaxAttempts bounds retries of allocation and rendering.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryInitialInterval sets the first backoff delay between attempts.
func WithRetryInitialInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryInitial = d
		}
	}
}

// WithClock overrides the request time. Without it the service uses
// requestcontext.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service. reads serves queries outside transactions.
func New(
	tx ports.StoreTx,
	reads ports.Stores,
	allocator ports.SequenceAllocator,
	generator ports.DocumentGenerator,
	artifacts ports.ArtifactStore,
	opts ...Option,
) (*Service, error) {
	if tx == nil {
		return nil, errors.New("store transaction runner is required")
	}
	if reads.Certificates == nil {
		return nil, errors.New("certificate store is required")
	}
	if reads.Subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if allocator == nil {
		return nil, errors.New("sequence allocator is required")
	}
	if generator == nil {
		return nil, errors.New("document generator is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}

	s := &Service{
		tx:            tx,
		certificates:  reads.Certificates,
		subjects:      reads.Subjects,
		allocator:     allocator,
		generator:     generator,
		artifacts:     artifacts,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		roles:         models.DefaultRolePolicy(),
		expiry:        models.DefaultExpiryPolicy(),
		renderTimeout: defaultRenderTimeout,
		maxAttempts:   defaultMaxAttempts,
		retryInitial:  defaultRetryInitial,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// operationTimeout bounds a whole write operation, including every render
// attempt, so the transaction deadline never cuts a render short.
func (s *Service) operationTimeout() time.Duration {
	return time.Duration(s.maxAttempts)*(s.renderTimeout+defaultRetryMaxInterval) + operationTimeoutHeadroom
}

// startOperation opens a span and returns a finish func that records the
// outcome in the span and metrics.
func (s *Service) startOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "certificate."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		defer span.End()
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, time.Since(start).Seconds())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if s.metrics != nil {
				s.metrics.IncFailure(op, failureCause(err))
			}
			return
		}
		if s.metrics != nil {
			s.metrics.IncOperation(op)
		}
	}
}
