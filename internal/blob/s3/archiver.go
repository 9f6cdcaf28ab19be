package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// rawContentType is used for archived gateway messages, which are opaque
// FIX tag/value bytes.
const rawContentType = "application/octet-stream"

// Archiver writes the raw bytes of every accepted trade to the compliance
// bucket before the trade is published downstream. Objects are partitioned
// by receive hour so retention jobs can expire whole prefixes:
//
//	fix/2026/02/01/09/7f8e2c1a-....fix
//
// Archival is write-once; nothing in the pipeline ever deletes these
// objects.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver over the given blob writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveRaw uploads one raw gateway message and returns the object key.
func (a *Archiver) ArchiveRaw(ctx context.Context, receiveTS time.Time, raw []byte) (string, error) {
	path := rawPath(receiveTS)
	if err := a.writer.Put(ctx, path, bytes.NewReader(raw), rawContentType); err != nil {
		return "", fmt.Errorf("s3blob: archive raw: %w", err)
	}
	return path, nil
}

// rawPath builds the hour-partitioned object key for a raw message.
func rawPath(receiveTS time.Time) string {
	return fmt.Sprintf("fix/%s/%s.fix", receiveTS.UTC().Format("2006/01/02/15"), uuid.NewString())
}
