package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockObjectStore is a hand-written ObjectStore for tests.
type MockObjectStore struct {
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
	WriteFunc func(ctx context.Context, bucket, object string, r io.Reader) error
}

func (m *MockObjectStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return nil, errors.New("not found")
}

func (m *MockObjectStore) Write(ctx context.Context, bucket, object string, r io.Reader) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, r)
	}
	return nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		object     string
		shouldFail bool
	}{
		{uri: "gs://statements/2024/jan.pdf", bucket: "statements", object: "2024/jan.pdf"},
		{uri: "gs://statements/jan.csv", bucket: "statements", object: "jan.csv"},
		{uri: "gs://statements", shouldFail: true},
		{uri: "gs://statements/", shouldFail: true},
		{uri: "gs:///jan.csv", shouldFail: true},
		{uri: "s3://statements/jan.csv", shouldFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if tt.shouldFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "jan.pdf", FilenameFromURI("gs://bucket/folder/jan.pdf"))
	assert.Equal(t, "bucket", FilenameFromURI("gs://bucket"))
	assert.Equal(t, "feb.csv", FilenameFromURI(filepath.Join("statements", "feb.csv")))
}

func TestFetch_LocalFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "jan.csv")
	require.NoError(t, os.WriteFile(p, []byte("Date,Amount\n"), 0o600))

	st, err := NewLoader(nil, 0).Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "jan.csv", st.Filename)
	assert.Equal(t, "Date,Amount\n", string(st.Data))

	_, err = NewLoader(nil, 0).Fetch(context.Background(), dir)
	require.Error(t, err)

	_, err = NewLoader(nil, 0).Fetch(context.Background(), filepath.Join(dir, "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewLoader(nil, 4).Fetch(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestFetch_Bucket(t *testing.T) {
	objects := &MockObjectStore{
		ReadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			assert.Equal(t, "statements", bucket)
			assert.Equal(t, "2024/jan.pdf", object)
			return []byte("%PDF-1.7"), nil
		},
	}
	st, err := NewLoader(objects, 0).Fetch(context.Background(), "gs://statements/2024/jan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "jan.pdf", st.Filename)
	assert.Equal(t, "%PDF-1.7", string(st.Data))

	_, err = NewLoader(nil, 0).Fetch(context.Background(), "gs://statements/2024/jan.pdf")
	require.ErrorIs(t, err, ErrNoObjectStore)
}

func TestArchive(t *testing.T) {
	var gotObject, gotBody string
	objects := &MockObjectStore{
		WriteFunc: func(ctx context.Context, bucket, object string, r io.Reader) error {
			body, err := io.ReadAll(r)
			require.NoError(t, err)
			gotObject, gotBody = object, string(body)
			return nil
		},
	}
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	uri, err := NewLoader(objects, 0).Archive(context.Background(), "statements", "/uploads/", "job-1", `C:\Users\me\jan.csv`, []byte("a,b"), now)
	require.NoError(t, err)
	assert.Equal(t, "uploads/2024-03-09/job-1-jan.csv", gotObject)
	assert.Equal(t, "a,b", gotBody)
	assert.Equal(t, "gs://statements/uploads/2024-03-09/job-1-jan.csv", uri)

	_, err = NewLoader(objects, 0).Archive(context.Background(), "", "", "x", "a.csv", nil, now)
	require.Error(t, err)

	_, err = NewLoader(nil, 0).Archive(context.Background(), "b", "", "x", "a.csv", nil, now)
	require.ErrorIs(t, err, ErrNoObjectStore)
}
