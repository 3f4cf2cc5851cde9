package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/store"
	id "certledger/pkg/domain"
)

func seedSubjects(t *testing.T, subjects *store.InMemorySubjectStore, n int) []id.SubjectID {
	t.Helper()
	ids := make([]id.SubjectID, 0, n)
	for i := 0; i < n; i++ {
		subject := models.Subject{
			ID:       id.NewSubjectID(),
			Type:     models.SubjectTypeUser,
			Name:     "Concurrent Holder",
			Region:   "CG",
			Verified: true,
		}
		require.NoError(t, subjects.Save(context.Background(), subject))
		ids = append(ids, subject.ID)
	}
	return ids
}

func TestConcurrentIssuanceAcrossSubjects(t *testing.T) {
	certificates := store.NewInMemoryCertificateStore()
	subjects := store.NewInMemorySubjectStore()
	svc := newFakeService(t, certificates, subjects)
	ids := seedSubjects(t, subjects, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, len(ids))
	)
	for _, subjectID := range ids {
		wg.Add(1)
		go func(subjectID id.SubjectID) {
			defer wg.Done()
			view, err := svc.Issue(context.Background(), subjectID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[view.Number] = struct{}{}
			mu.Unlock()
		}(subjectID)
	}
	wg.Wait()

	assert.Len(t, numbers, len(ids), "every issued number must be distinct")
	for n := 1; n <= len(ids); n++ {
		_, ok := numbers[models.FormatNumber(models.Scope{Prefix: "YM", Region: "CG", Year: 2025, Month: 11}, int64(n))]
		assert.True(t, ok, "serial %d missing", n)
	}
}

func TestConcurrentIssuanceForOneSubject(t *testing.T) {
	certificates := store.NewInMemoryCertificateStore()
	subjects := store.NewInMemorySubjectStore()
	svc := newFakeService(t, certificates, subjects)
	subjectID := seedSubjects(t, subjects, 1)[0]

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), subjectID)
			mu.Lock()
			defer mu.Unlock()
			var issued *AlreadyIssuedError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &issued):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, rejected)
	history, err := certificates.ListBySubject(context.Background(), subjectID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentRenewalsKeepChainIntact(t *testing.T) {
	certificates := store.NewInMemoryCertificateStore()
	subjects := store.NewInMemorySubjectStore()
	svc := newFakeService(t, certificates, subjects)
	subjectID := seedSubjects(t, subjects, 1)[0]
	ctx := context.Background()
	_, err := svc.Issue(ctx, subjectID)
	require.NoError(t, err)

	const renewals = 10
	var wg sync.WaitGroup
	for i := 0; i < renewals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Renew(ctx, subjectID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chain, err := svc.VerifyChain(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, chain, renewals+1)
	assert.Equal(t, renewals, chain[0].RenewalCount)
	assert.Equal(t, models.StatusActive, chain[0].Status)
	for _, c := range chain[1:] {
		assert.Equal(t, models.StatusReplaced, c.Status)
	}
}
