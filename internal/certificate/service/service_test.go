package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/metrics"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	"certledger/internal/certificate/sequence"
	"certledger/internal/certificate/service/mocks"
	"certledger/internal/certificate/store"
	id "certledger/pkg/domain"
	auditpublisher "certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
)

var testNow = time.Date(2025, 11, 14, 9, 30, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockGenerator *mocks.MockDocumentGenerator
	mockArtifacts *mocks.MockArtifactStore
	certificates  *store.InMemoryCertificateStore
	subjects      *store.InMemorySubjectStore
	allocator     *sequence.InMemoryAllocator
	auditStore    *auditmemory.InMemoryStore
	metrics       *metrics.Metrics
	service       *Service
	now           time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockGenerator = mocks.NewMockDocumentGenerator(s.ctrl)
	s.mockArtifacts = mocks.NewMockArtifactStore(s.ctrl)
	s.certificates = store.NewInMemoryCertificateStore()
	s.subjects = store.NewInMemorySubjectStore()
	s.allocator = sequence.NewInMemoryAllocator()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = testNow
	s.service = s.newService(s.allocator)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(allocator ports.SequenceAllocator, opts ...Option) *Service {
	base := []Option{
		WithAuditPublisher(auditpublisher.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
		WithRetryInitialInterval(time.Millisecond),
	}
	svc, err := New(
		store.NewInMemoryTx(s.certificates, s.subjects),
		ports.Stores{Certificates: s.certificates, Subjects: s.subjects},
		allocator,
		s.mockGenerator,
		s.mockArtifacts,
		append(base, opts...)...,
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) seedSubject(subjectType models.SubjectType) models.Subject {
	subject := models.Subject{
		ID:        id.NewSubjectID(),
		Type:      subjectType,
		Name:      "Amara Okafor",
		Email:     "amara@example.com",
		Region:    "CG",
		Verified:  true,
		UpdatedAt: s.now,
	}
	s.Require().NoError(s.subjects.Save(context.Background(), subject))
	return subject
}

// expectRender makes the generator return a location derived from the number.
func (s *ServiceSuite) expectRender(times int) {
	s.mockGenerator.EXPECT().
		Render(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ models.SubjectSnapshot, number string) (ports.RenderResult, error) {
			return ports.RenderResult{ArtifactLocation: artifactFor(number)}, nil
		}).
		Times(times)
}

func (s *ServiceSuite) mustIssue(subjectID id.SubjectID) models.CertificateView {
	s.expectRender(1)
	view, err := s.service.Issue(context.Background(), subjectID)
	s.Require().NoError(err)
	return view
}

func (s *ServiceSuite) storedCertificate(certID id.CertificateID) models.Certificate {
	cert, err := s.certificates.FindByID(context.Background(), certID)
	s.Require().NoError(err)
	return cert
}

func (s *ServiceSuite) storedSubject(subjectID id.SubjectID) models.Subject {
	subject, err := s.subjects.FindByID(context.Background(), subjectID)
	s.Require().NoError(err)
	return subject
}

func (s *ServiceSuite) auditActions(subjectID id.SubjectID) []string {
	events, err := s.auditStore.ListBySubject(context.Background(), subjectID.String())
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

// assertSingleActive checks that at most one certificate is active and that
// it is the one the subject references.
func (s *ServiceSuite) assertSingleActive(subjectID id.SubjectID) {
	history, err := s.certificates.ListBySubject(context.Background(), subjectID)
	s.Require().NoError(err)
	var active []models.Certificate
	for _, c := range history {
		if c.Status == models.StatusActive {
			active = append(active, c)
		}
	}
	s.Require().LessOrEqual(len(active), 1)
	subject := s.storedSubject(subjectID)
	if len(active) == 0 {
		s.Nil(subject.ActiveCertificateID)
		return
	}
	s.Require().NotNil(subject.ActiveCertificateID)
	s.Equal(active[0].ID, *subject.ActiveCertificateID)
}

func artifactFor(number string) string {
	return "certificates/" + number + ".pdf"
}

// fakeGenerator renders deterministically and is safe for concurrent use.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) Render(ctx context.Context, _ models.SubjectSnapshot, number string) (ports.RenderResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ports.RenderResult{}, err
	}
	return ports.RenderResult{ArtifactLocation: artifactFor(number)}, nil
}

// fakeArtifacts records deletions and is safe for concurrent use.
type fakeArtifacts struct {
	mu      sync.Mutex
	deleted []string
}

func (a *fakeArtifacts) Delete(_ context.Context, location string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, location)
	return nil
}

func newFakeService(t *testing.T, certificates *store.InMemoryCertificateStore, subjects *store.InMemorySubjectStore) *Service {
	t.Helper()
	svc, err := New(
		store.NewInMemoryTx(certificates, subjects),
		ports.Stores{Certificates: certificates, Subjects: subjects},
		sequence.NewInMemoryAllocator(),
		&fakeGenerator{},
		&fakeArtifacts{},
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNew_RequiresCollaborators(t *testing.T) {
	certificates := store.NewInMemoryCertificateStore()
	subjects := store.NewInMemorySubjectStore()
	tx := store.NewInMemoryTx(certificates, subjects)
	reads := ports.Stores{Certificates: certificates, Subjects: subjects}
	allocator := sequence.NewInMemoryAllocator()

	cases := map[string]func() (*Service, error){
		"tx":        func() (*Service, error) { return New(nil, reads, allocator, &fakeGenerator{}, &fakeArtifacts{}) },
		"reads":     func() (*Service, error) { return New(tx, ports.Stores{}, allocator, &fakeGenerator{}, &fakeArtifacts{}) },
		"allocator": func() (*Service, error) { return New(tx, reads, nil, &fakeGenerator{}, &fakeArtifacts{}) },
		"generator": func() (*Service, error) { return New(tx, reads, allocator, nil, &fakeArtifacts{}) },
		"artifacts": func() (*Service, error) { return New(tx, reads, allocator, &fakeGenerator{}, nil) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := build()
			if err == nil || svc != nil {
				t.Fatalf("expected error for missing %s", name)
			}
		})
	}
}
