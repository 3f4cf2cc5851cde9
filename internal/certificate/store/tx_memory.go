package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// numTxShards spreads subjects over independent locks so unrelated subjects
// never wait on each other.
const numTxShards = 128

// defaultTxTimeout is the maximum duration of a transaction without a caller deadline.
const defaultTxTimeout = 5 * time.Second

// InMemoryTx serializes transactions per subject using sharded mutexes. A
// callback's writes are staged and reach the base stores only when it
// succeeds, all at once under the commit lock.
type InMemoryTx struct {
	shards       [numTxShards]sync.Mutex
	commit       sync.RWMutex
	certificates *InMemoryCertificateStore
	subjects     *InMemorySubjectStore
	timeout      time.Duration
}

// TxOption configures a transaction runner.
type TxOption func(*txConfig)

type txConfig struct {
	timeout time.Duration
}

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) TxOption {
	return func(c *txConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func applyTxOptions(opts []TxOption) txConfig {
	cfg := txConfig{timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func NewInMemoryTx(certificates *InMemoryCertificateStore, subjects *InMemorySubjectStore, opts ...TxOption) *InMemoryTx {
	cfg := applyTxOptions(opts)
	return &InMemoryTx{certificates: certificates, subjects: subjects, timeout: cfg.timeout}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, subjectID id.SubjectID, fn func(ctx context.Context, stores ports.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &t.shards[shardFor(subjectID.String())]
	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	w := newStagedWrites()
	stores := ports.Stores{
		Certificates: &stagedCertificates{base: t.certificates, w: w},
		Subjects:     &stagedSubjects{base: t.subjects, w: w},
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	return t.apply(w)
}

// View runs fn against the base stores while holding the commit lock for
// reading, so no transaction becomes visible halfway through fn.
func (t *InMemoryTx) View(ctx context.Context, _ id.SubjectID, fn func(ctx context.Context, stores ports.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "read aborted: context cancelled")
	}
	t.commit.RLock()
	defer t.commit.RUnlock()
	return fn(ctx, ports.Stores{Certificates: t.certificates, Subjects: t.subjects})
}

// apply validates the staged writes against the base stores and copies them
// in. Nothing is written when validation fails.
func (t *InMemoryTx) apply(w *stagedWrites) error {
	if w.empty() {
		return nil
	}
	t.commit.Lock()
	defer t.commit.Unlock()

	c := t.certificates
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := t.subjects
	sub.mu.Lock()
	defer sub.mu.Unlock()

	for _, certID := range w.created {
		cert := w.certs[certID]
		if _, ok := c.byID[certID]; ok {
			return fmt.Errorf("certificate %s: %w", certID, sentinel.ErrConflict)
		}
		if _, ok := c.byNumber[cert.Number]; ok {
			return fmt.Errorf("number %s: %w", cert.Number, ErrDuplicateNumber)
		}
	}
	for certID := range w.certs {
		if _, created := w.isNew[certID]; created {
			continue
		}
		if _, ok := c.byID[certID]; !ok {
			return fmt.Errorf("certificate %s: %w", certID, sentinel.ErrNotFound)
		}
	}
	for subjectID, prior := range w.priors {
		existing, ok := sub.subjects[subjectID]
		if ok != prior.exists || (ok && existing.Version != prior.version) {
			return fmt.Errorf("subject %s changed outside the transaction: %w", subjectID, sentinel.ErrConflict)
		}
	}

	for _, certID := range w.created {
		cert := w.certs[certID]
		c.seq++
		c.byID[certID] = &certificateEntry{cert: cert, seq: c.seq}
		c.byNumber[cert.Number] = certID
		c.bySubject[cert.SubjectID] = append(c.bySubject[cert.SubjectID], certID)
	}
	for certID, cert := range w.certs {
		if _, created := w.isNew[certID]; !created {
			c.byID[certID].cert = cert
		}
	}
	for subjectID, subject := range w.subjects {
		sub.subjects[subjectID] = subject
	}
	return nil
}

// shardFor hashes with FNV-1a for an even spread of UUID strings.
func shardFor(s string) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return int(h % numTxShards)
}

type subjectPrior struct {
	exists  bool
	version int64
}

// stagedWrites holds one transaction's uncommitted records.
type stagedWrites struct {
	certs    map[id.CertificateID]models.Certificate
	created  []id.CertificateID
	isNew    map[id.CertificateID]struct{}
	subjects map[id.SubjectID]models.Subject
	priors   map[id.SubjectID]subjectPrior
}

func newStagedWrites() *stagedWrites {
	return &stagedWrites{
		certs:    make(map[id.CertificateID]models.Certificate),
		isNew:    make(map[id.CertificateID]struct{}),
		subjects: make(map[id.SubjectID]models.Subject),
		priors:   make(map[id.SubjectID]subjectPrior),
	}
}

func (w *stagedWrites) empty() bool {
	return len(w.certs) == 0 && len(w.subjects) == 0
}

// stagedCertificates reads through to the base store and keeps writes local.
type stagedCertificates struct {
	base *InMemoryCertificateStore
	w    *stagedWrites
}

func (s *stagedCertificates) Create(ctx context.Context, cert models.Certificate) error {
	if _, ok := s.w.certs[cert.ID]; ok {
		return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrConflict)
	}
	if _, err := s.base.FindByID(ctx, cert.ID); err == nil {
		return fmt.Errorf("certificate %s: %w", cert.ID, sentinel.ErrConflict)
	}
	if _, err := s.FindByNumber(ctx, cert.Number); err == nil {
		return fmt.Errorf("number %s: %w", cert.Number, ErrDuplicateNumber)
	}
	s.w.certs[cert.ID] = cert.Clone()
	s.w.created = append(s.w.created, cert.ID)
	s.w.isNew[cert.ID] = struct{}{}
	return nil
}

func (s *stagedCertificates) Update(ctx context.Context, cert models.Certificate) error {
	current, err := s.FindByID(ctx, cert.ID)
	if err != nil {
		return err
	}
	if current.Number != cert.Number || current.SubjectID != cert.SubjectID {
		return fmt.Errorf("certificate %s: number and subject are immutable: %w", cert.ID, sentinel.ErrInvalidState)
	}
	s.w.certs[cert.ID] = cert.Clone()
	return nil
}

func (s *stagedCertificates) FindByID(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	if cert, ok := s.w.certs[certID]; ok {
		return cert.Clone(), nil
	}
	return s.base.FindByID(ctx, certID)
}

func (s *stagedCertificates) FindByNumber(ctx context.Context, number string) (models.Certificate, error) {
	for _, cert := range s.w.certs {
		if cert.Number == number {
			return cert.Clone(), nil
		}
	}
	cert, err := s.base.FindByNumber(ctx, number)
	if err != nil {
		return models.Certificate{}, err
	}
	return s.FindByID(ctx, cert.ID)
}

func (s *stagedCertificates) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]models.Certificate, error) {
	committed, err := s.base.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Certificate, 0, len(committed)+len(s.w.created))
	for i := len(s.w.created) - 1; i >= 0; i-- {
		if cert := s.w.certs[s.w.created[i]]; cert.SubjectID == subjectID {
			out = append(out, cert.Clone())
		}
	}
	return append(out, s.overlay(committed, nil)...), nil
}

func (s *stagedCertificates) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Certificate, error) {
	keep := func(c models.Certificate) bool {
		return c.Status == models.StatusActive && !c.ExpiryDate.Before(from) && !c.ExpiryDate.After(to)
	}
	committed, err := s.base.ListExpiringBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := append(s.overlay(committed, keep), s.createdMatching(keep)...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (s *stagedCertificates) ListPendingArtifactCleanup(ctx context.Context) ([]models.Certificate, error) {
	keep := func(c models.Certificate) bool { return c.ArtifactCleanupPending }
	committed, err := s.base.ListPendingArtifactCleanup(ctx)
	if err != nil {
		return nil, err
	}
	return append(s.overlay(committed, keep), s.createdMatching(keep)...), nil
}

// overlay swaps committed records for their staged versions, dropping those
// that no longer satisfy keep. A nil keep keeps every record in
// committed order.
func (s *stagedCertificates) overlay(committed []models.Certificate, keep func(models.Certificate) bool) []models.Certificate {
	out := make([]models.Certificate, 0, len(committed))
	seen := make(map[id.CertificateID]struct{}, len(committed))
	for _, cert := range committed {
		seen[cert.ID] = struct{}{}
		if staged, ok := s.w.certs[cert.ID]; ok {
			cert = staged.Clone()
		}
		if keep == nil || keep(cert) {
			out = append(out, cert)
		}
	}
	if keep == nil {
		return out
	}
	// Staged updates may move a committed record into the filter.
	for certID, cert := range s.w.certs {
		_, created := s.w.isNew[certID]
		_, listed := seen[certID]
		if !created && !listed && keep(cert) {
			out = append(out, cert.Clone())
		}
	}
	return out
}

func (s *stagedCertificates) createdMatching(keep func(models.Certificate) bool) []models.Certificate {
	var out []models.Certificate
	for _, certID := range s.w.created {
		if cert := s.w.certs[certID]; keep(cert) {
			out = append(out, cert.Clone())
		}
	}
	return out
}

// stagedSubjects reads through to the base store and keeps saves local.
type stagedSubjects struct {
	base *InMemorySubjectStore
	w    *stagedWrites
}

func (s *stagedSubjects) FindByID(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	if subject, ok := s.w.subjects[subjectID]; ok {
		return subject.Clone(), nil
	}
	return s.base.FindByID(ctx, subjectID)
}

// FindByIDForUpdate is FindByID; the transaction already holds the subject's
// shard lock.
func (s *stagedSubjects) FindByIDForUpdate(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	return s.FindByID(ctx, subjectID)
}

func (s *stagedSubjects) Save(ctx context.Context, subject models.Subject) error {
	current, err := s.FindByID(ctx, subject.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	if exists && current.Version != subject.Version {
		return fmt.Errorf("subject %s version %d is stale: %w", subject.ID, subject.Version, sentinel.ErrConflict)
	}
	if _, staged := s.w.priors[subject.ID]; !staged {
		s.w.priors[subject.ID] = subjectPrior{exists: exists, version: current.Version}
	}
	saved := subject.Clone()
	saved.Version++
	s.w.subjects[subject.ID] = saved
	return nil
}
