package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

const objectRoot = "ipn"

// GCSArchive is an Archiver backed by a Google Cloud Storage bucket. It
// assumes Application Default Credentials are configured.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive creates an archive over the given bucket with a shared
// storage client.
func NewGCSArchive(ctx context.Context, bucket string) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArchive: creating storage client: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

// Archive implements Archiver. Objects are named
// ipn/<yyyy>/<mm>/<dd>/<uuid> so a day's deliveries list together.
func (a *GCSArchive) Archive(ctx context.Context, body []byte, receivedAt time.Time) (string, error) {
	objectName := fmt.Sprintf("%s/%s/%s", objectRoot, receivedAt.UTC().Format("2006/01/02"), uuid.New().String())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/x-www-form-urlencoded"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalizing upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

// Fetch implements Archiver.
func (a *GCSArchive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// List implements Archiver.
func (a *GCSArchive) List(ctx context.Context, datePrefix string) ([]string, error) {
	prefix := objectRoot + "/"
	if datePrefix != "" {
		prefix += strings.TrimSuffix(datePrefix, "/") + "/"
	}

	var uris []string
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating objects: %w", err)
		}
		uris = append(uris, fmt.Sprintf("gs://%s/%s", a.bucket, attrs.Name))
	}
	return uris, nil
}

// splitURI parses a gs://bucket/object URI.
func splitURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

var _ Archiver = (*GCSArchive)(nil)
