// Package source loads statement bytes from a local path or a Cloud Storage
// URI and archives uploaded statements to a bucket.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// ErrNoObjectStore is returned for gs:// URIs when no bucket client was configured.
var ErrNoObjectStore = errors.New("no object store configured")

// ObjectStore reads and writes whole objects in a bucket.
type ObjectStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	Write(ctx context.Context, bucket, object string, r io.Reader) error
}

// Statement is a fetched statement file.
type Statement struct {
	URI      string
	Filename string
	Data     []byte
}

// Loader fetches statements. A nil ObjectStore limits it to local files.
type Loader struct {
	objects  ObjectStore
	maxBytes int64
}

// NewLoader creates a loader. maxBytes <= 0 disables the size check.
func NewLoader(objects ObjectStore, maxBytes int64) *Loader {
	return &Loader{objects: objects, maxBytes: maxBytes}
}

// Fetch reads uri, which is either gs://bucket/object or a local path.
func (l *Loader) Fetch(ctx context.Context, uri string) (*Statement, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(uri, gcsScheme) {
		data, err = l.fetchObject(ctx, uri)
	} else {
		data, err = l.fetchFile(uri)
	}
	if err != nil {
		return nil, err
	}
	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("Fetch: %s is %d bytes, limit is %d", uri, len(data), l.maxBytes)
	}
	return &Statement{URI: uri, Filename: FilenameFromURI(uri), Data: data}, nil
}

func (l *Loader) fetchObject(ctx context.Context, uri string) ([]byte, error) {
	if l.objects == nil {
		return nil, fmt.Errorf("Fetch: %s: %w", uri, ErrNoObjectStore)
	}
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	data, err := l.objects.Read(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

func (l *Loader) fetchFile(p string) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("Fetch: %s is a directory", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

// Archive stores an uploaded statement under prefix/<date>/<id>-<filename>
// and returns its gs:// URI.
func (l *Loader) Archive(ctx context.Context, bucket, prefix, id, filename string, data []byte, now time.Time) (string, error) {
	if l.objects == nil {
		return "", fmt.Errorf("Archive: %w", ErrNoObjectStore)
	}
	if bucket == "" {
		return "", errors.New("Archive: bucket is required")
	}
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "statement"
	}
	object := path.Join(strings.Trim(prefix, "/"), now.UTC().Format("2006-01-02"), id+"-"+name)
	if err := l.objects.Write(ctx, bucket, object, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("Archive: %w", err)
	}
	return gcsScheme + bucket + "/" + object, nil
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, gcsScheme) {
		return "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element of a gs:// URI or local path.
// e.g. "gs://bucket/2024/jan.pdf" → "jan.pdf"
func FilenameFromURI(uri string) string {
	if strings.HasPrefix(uri, gcsScheme) {
		parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
		if len(parts) < 2 {
			return parts[0]
		}
		return path.Base(parts[1])
	}
	return filepath.Base(uri)
}

// GCS is the Cloud Storage ObjectStore. It assumes Application Default
// Credentials are configured.
type GCS struct {
	client *storage.Client
}

func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

func (g *GCS) Write(ctx context.Context, bucket, object string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s/%s: %w", bucket, object, err)
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s/%s: finalize: %w", bucket, object, err)
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
