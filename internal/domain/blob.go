package domain

import (
	"context"
	"io"
)

// BlobWriter uploads raw payloads to object storage. The ingest archive is
// the only writer; content is opaque bytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
