// Package source opens statement files from the local filesystem or Google Cloud Storage.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSScheme prefixes Cloud Storage URIs.
const GCSScheme = "gs://"

// Opener opens a statement by URI. Callers close the returned reader.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// IsGCSURI reports whether uri names a Cloud Storage object or prefix.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, GCSScheme)
}

// ParseGCSURI splits "gs://bucket/path/to/file.csv" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, GCSScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename extracts the base filename from a GCS URI or local path.
// e.g., "gs://bucket/folder/chase_2024.csv" -> "chase_2024.csv"
func Filename(uri string) string {
	if !IsGCSURI(uri) {
		return filepath.Base(uri)
	}
	trimmed := strings.TrimPrefix(uri, GCSScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// Files opens local paths and gs:// objects. The storage client is created on
// first use and shared afterwards.
type Files struct {
	mu     sync.Mutex
	client *storage.Client
}

// NewFiles returns a Files opener with no storage client yet.
func NewFiles() *Files {
	return &Files{}
}

// NewFilesWithClient returns a Files opener that uses client for gs:// URIs.
func NewFilesWithClient(client *storage.Client) *Files {
	return &Files{client: client}
}

func (f *Files) storageClient(ctx context.Context) (*storage.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	f.client = client
	return client, nil
}

// Open implements Opener.
func (f *Files) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !IsGCSURI(uri) {
		file, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("open file %q: %w", uri, err)
		}
		return file, nil
	}

	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := f.storageClient(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// Expand resolves each uri into the statement files it names. A local directory
// or a gs:// URI ending in "/" expands to the .csv files beneath it; anything else
// is returned unchanged.
func (f *Files) Expand(ctx context.Context, uris []string) ([]string, error) {
	var out []string
	for _, uri := range uris {
		if IsGCSURI(uri) {
			if !strings.HasSuffix(uri, "/") {
				out = append(out, uri)
				continue
			}
			listed, err := f.listGCS(ctx, uri)
			if err != nil {
				return nil, err
			}
			out = append(out, listed...)
			continue
		}

		info, err := os.Stat(uri)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", uri, err)
		}
		if !info.IsDir() {
			out = append(out, uri)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(uri, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", uri, err)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

func (f *Files) listGCS(ctx context.Context, prefixURI string) ([]string, error) {
	bucket := strings.TrimPrefix(prefixURI, GCSScheme)
	prefix := ""
	if i := strings.Index(bucket, "/"); i >= 0 {
		bucket, prefix = bucket[:i], bucket[i+1:]
	}

	client, err := f.storageClient(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		if strings.HasSuffix(strings.ToLower(attrs.Name), ".csv") {
			out = append(out, GCSScheme+bucket+"/"+attrs.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close releases the storage client if one was created.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		err := f.client.Close()
		f.client = nil
		return err
	}
	return nil
}
