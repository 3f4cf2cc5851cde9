// Package generator renders certificate documents from a text template and
// hands them to an artifact store. It is the in-process DocumentGenerator;
// deployments with a dedicated rendering service replace it.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/ports"
)

const defaultTemplate = `CERTIFICATE OF REGISTRATION
Number:      {{.Number}}
Holder:      {{.Name}}
Holder type: {{.Type}}
Region:      {{.Region}}
Issued:      {{.IssueDate.Format "2006-01-02"}}
Valid until: {{.ExpiryDate.Format "2006-01-02"}}
`

// Writer stores a rendered document and returns its location.
type Writer interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

type Generator struct {
	writer  Writer
	tmpl    *template.Template
	expiry  models.ExpiryPolicy
	clock   func() time.Time
	latency time.Duration
}

type Option func(*Generator)

// WithTemplate replaces the document body template.
func WithTemplate(tmpl *template.Template) Option {
	return func(g *Generator) {
		g.tmpl = tmpl
	}
}

func WithExpiryPolicy(policy models.ExpiryPolicy) Option {
	return func(g *Generator) {
		g.expiry = policy
	}
}

func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// WithLatency delays every render to mimic a remote rendering service.
func WithLatency(d time.Duration) Option {
	return func(g *Generator) {
		g.latency = d
	}
}

func New(writer Writer, opts ...Option) (*Generator, error) {
	if writer == nil {
		return nil, errors.New("artifact writer is required")
	}
	g := &Generator{
		writer: writer,
		tmpl:   template.Must(template.New("certificate").Parse(defaultTemplate)),
		expiry: models.DefaultExpiryPolicy(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type documentData struct {
	Number     string
	Name       string
	Type       models.SubjectType
	Region     string
	IssueDate  time.Time
	ExpiryDate time.Time
}

// Render writes the document for number to "certificates/<number>.pdf", so
// rendering the same number twice overwrites one location.
func (g *Generator) Render(ctx context.Context, subject models.SubjectSnapshot, number string) (ports.RenderResult, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ports.RenderResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	issued := g.clock().UTC()
	data := documentData{
		Number:     number,
		Name:       subject.Name,
		Type:       subject.Type,
		Region:     subject.Region,
		IssueDate:  issued,
		ExpiryDate: g.expiry.ExpiryFor(issued),
	}
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return ports.RenderResult{}, fmt.Errorf("render certificate %s: %w", number, err)
	}
	location, err := g.writer.Put(ctx, "certificates/"+number+".pdf", buf.Bytes())
	if err != nil {
		return ports.RenderResult{}, fmt.Errorf("store certificate %s: %w", number, err)
	}
	return ports.RenderResult{
		ArtifactLocation: location,
		IssueDate:        data.IssueDate,
		ExpiryDate:       data.ExpiryDate,
	}, nil
}
