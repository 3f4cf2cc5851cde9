package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type certificateEntry struct {
	cert models.Certificate
	seq  uint64
}

// InMemoryCertificateStore keeps certificates in maps. Records are cloned on
// the way in and out so callers never share pointers with the store.
type InMemoryCertificateStore struct {
	mu        sync.RWMutex
	byID      map[id.CertificateID]*certificateEntry
	byNumber  map[string]id.CertificateID
	bySubject map[id.SubjectID][]id.CertificateID
	seq       uint64
}

func NewInMemoryCertificateStore() *InMemoryCertificateStore {
	return &InMemoryCertificateStore{
		byID:      make(map[id.CertificateID]*certificateEntry),
		byNumber:  make(map[string]id.CertificateID),
		bySubject: make(map[id.SubjectID][]id.CertificateID),
	}
}

func (s *InMemoryCertificateStore) Create(_ context.Context, cert models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[cert.ID]; ok {
		return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrConflict)
	}
	if _, ok := s.byNumber[cert.Number]; ok {
		return fmt.Errorf("number %s: %w", cert.Number, ErrDuplicateNumber)
	}
	s.seq++
	s.byID[cert.ID] = &certificateEntry{cert: cert.Clone(), seq: s.seq}
	s.byNumber[cert.Number] = cert.ID
	s.bySubject[cert.SubjectID] = append(s.bySubject[cert.SubjectID], cert.ID)
	return nil
}

func (s *InMemoryCertificateStore) Update(_ context.Context, cert models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[cert.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if entry.cert.Number != cert.Number || entry.cert.SubjectID != cert.SubjectID {
		return fmt.Errorf("certificate %s: number and subject are immutable: %w", cert.ID, sentinel.ErrInvalidState)
	}
	entry.cert = cert.Clone()
	return nil
}

func (s *InMemoryCertificateStore) FindByID(_ context.Context, certID id.CertificateID) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[certID]
	if !ok {
		return models.Certificate{}, sentinel.ErrNotFound
	}
	return entry.cert.Clone(), nil
}

func (s *InMemoryCertificateStore) FindByNumber(_ context.Context, number string) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byNumber[number]
	if !ok {
		return models.Certificate{}, sentinel.ErrNotFound
	}
	return s.byID[certID].cert.Clone(), nil
}

func (s *InMemoryCertificateStore) ListBySubject(_ context.Context, subjectID id.SubjectID) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySubject[subjectID]
	out := make([]models.Certificate, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.byID[ids[i]].cert.Clone())
	}
	return out, nil
}

func (s *InMemoryCertificateStore) ListExpiringBetween(_ context.Context, from, to time.Time) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*certificateEntry
	for _, entry := range s.byID {
		c := entry.cert
		if c.Status != models.StatusActive {
			continue
		}
		if c.ExpiryDate.Before(from) || c.ExpiryDate.After(to) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cert.ExpiryDate.Equal(entries[j].cert.ExpiryDate) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].cert.ExpiryDate.Before(entries[j].cert.ExpiryDate)
	})
	return cloneEntries(entries), nil
}

func (s *InMemoryCertificateStore) ListPendingArtifactCleanup(_ context.Context) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*certificateEntry
	for _, entry := range s.byID {
		if entry.cert.ArtifactCleanupPending {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return cloneEntries(entries), nil
}

func cloneEntries(entries []*certificateEntry) []models.Certificate {
	out := make([]models.Certificate, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.cert.Clone())
	}
	return out
}

// InMemorySubjectStore keeps subjects in a map with optimistic versioning.
type InMemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[id.SubjectID]models.Subject
}

func NewInMemorySubjectStore() *InMemorySubjectStore {
	return &InMemorySubjectStore{subjects: make(map[id.SubjectID]models.Subject)}
}

func (s *InMemorySubjectStore) FindByID(_ context.Context, subjectID id.SubjectID) (models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return models.Subject{}, sentinel.ErrNotFound
	}
	return subject.Clone(), nil
}

// FindByIDForUpdate is FindByID; the in-memory transaction already holds the
// subject's shard lock.
func (s *InMemorySubjectStore) FindByIDForUpdate(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	return s.FindByID(ctx, subjectID)
}

func (s *InMemorySubjectStore) Save(_ context.Context, subject models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subjects[subject.ID]; ok && existing.Version != subject.Version {
		return fmt.Errorf("subject %s version %d is stale: %w", subject.ID, subject.Version, sentinel.ErrConflict)
	}
	saved := subject.Clone()
	saved.Version++
	s.subjects[subject.ID] = saved
	return nil
}
