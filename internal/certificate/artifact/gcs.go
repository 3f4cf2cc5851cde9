package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// GCSStore keeps documents as objects in one Cloud Storage bucket. Locations
// are "gs://<bucket>/<object>".
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

type gcsConfig struct {
	clientOpts []option.ClientOption
}

type GCSOption func(*gcsConfig)

// WithCredentialsFile authenticates with a service account key file instead
// of application default credentials.
func WithCredentialsFile(path string) GCSOption {
	return func(c *gcsConfig) {
		c.clientOpts = append(c.clientOpts, option.WithCredentialsFile(path))
	}
}

// WithClientOptions passes raw client options, e.g. an endpoint override.
func WithClientOptions(opts ...option.ClientOption) GCSOption {
	return func(c *gcsConfig) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

func NewGCSStore(ctx context.Context, bucket string, opts ...GCSOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs artifact bucket is required")
	}
	cfg := &gcsConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	clientOpts := append([]option.ClientOption{storage.WithDisabledClientMetrics()}, cfg.clientOpts...)
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	name = strings.TrimPrefix(name, "/")
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType(name)
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for %s: %w", name, err)
	}
	return gcsScheme + s.name + "/" + name, nil
}

func (s *GCSStore) Delete(ctx context.Context, location string) error {
	object, err := s.objectFor(location)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(object).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("delete gcs object %s: %w", object, err)
	}
	return nil
}

func (s *GCSStore) objectFor(location string) (string, error) {
	rest, ok := strings.CutPrefix(location, gcsScheme)
	if !ok {
		return "", fmt.Errorf("%q: %w", location, ErrForeignLocation)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket != s.name || object == "" {
		return "", fmt.Errorf("%q: %w", location, ErrForeignLocation)
	}
	return object, nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}
