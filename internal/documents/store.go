// Package documents stores loan application documents in Cloud Storage or,
// for local development, in a directory on disk.
package documents

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists uploaded documents and returns a reference that Fetch
// understands.
type Store interface {
	// Save writes the document and returns its reference.
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)

	// Fetch reads a document back by reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

const objectPrefix = "loan_documents"

// ObjectName builds a unique object key for an upload:
// loan_documents/<yyyy>/<mm>/<dd>/<uuid>-<base name>.
func ObjectName(filename string, at time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "document"
	}
	return fmt.Sprintf("%s/%s/%s-%s", objectPrefix, at.UTC().Format("2006/01/02"), uuid.New().String(), base)
}

// ParseGCSURI splits gs://bucket/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
