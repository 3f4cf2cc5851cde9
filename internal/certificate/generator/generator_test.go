package generator

import (
	"context"
	"errors"
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/certificate/artifact"
	"certledger/internal/certificate/models"
)

var issuedAt = time.Date(2025, time.November, 14, 9, 30, 0, 0, time.UTC)

func snapshot() models.SubjectSnapshot {
	return models.SubjectSnapshot{Name: "Amara Okafor", Type: models.SubjectTypeUser, Region: "CG"}
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.OpenBadgerStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gen, err := New(store, WithClock(func() time.Time { return issuedAt }))
	require.NoError(t, err)

	result, err := gen.Render(ctx, snapshot(), "YM-CG-2025-11-00001")
	require.NoError(t, err)
	assert.Equal(t, "badger:certificates/YM-CG-2025-11-00001.pdf", result.ArtifactLocation)
	assert.Equal(t, issuedAt, result.IssueDate)
	assert.Equal(t, time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC), result.ExpiryDate)

	body, err := store.Get(ctx, result.ArtifactLocation)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Number:      YM-CG-2025-11-00001")
	assert.Contains(t, string(body), "Holder:      Amara Okafor")
	assert.Contains(t, string(body), "Valid until: 2026-03-31")

	again, err := gen.Render(ctx, snapshot(), "YM-CG-2025-11-00001")
	require.NoError(t, err)
	assert.Equal(t, result.ArtifactLocation, again.ArtifactLocation)
}

func TestRender_HonoursDeadline(t *testing.T) {
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	gen, err := New(store, WithLatency(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gen.Render(ctx, snapshot(), "YM-CG-2025-11-00001")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingWriter struct{}

func (failingWriter) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestRender_WriterFailure(t *testing.T) {
	gen, err := New(failingWriter{})
	require.NoError(t, err)
	_, err = gen.Render(context.Background(), snapshot(), "YV-CG-2025-11-00003")
	assert.ErrorContains(t, err, "disk full")

	_, err = New(nil)
	assert.Error(t, err)
}

func TestRender_CustomTemplate(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.OpenBadgerStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tmpl := template.Must(template.New("vendor").Parse("{{.Number}} issued to {{.Name}} ({{.Type}})"))
	gen, err := New(store, WithTemplate(tmpl), WithClock(func() time.Time { return issuedAt }))
	require.NoError(t, err)

	result, err := gen.Render(ctx, models.SubjectSnapshot{Name: "Acme Supplies", Type: models.SubjectTypeVendor}, "YV-CG-2025-11-00002")
	require.NoError(t, err)
	body, err := store.Get(ctx, result.ArtifactLocation)
	require.NoError(t, err)
	assert.Equal(t, "YV-CG-2025-11-00002 issued to Acme Supplies (vendor)", string(body))

	broken := template.Must(template.New("broken").Parse("{{.Missing}}"))
	gen, err = New(store, WithTemplate(broken))
	require.NoError(t, err)
	_, err = gen.Render(ctx, snapshot(), "YV-CG-2025-11-00003")
	assert.ErrorContains(t, err, "render certificate YV-CG-2025-11-00003")
}
