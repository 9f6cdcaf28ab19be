package domain

import (
	"context"
	"time"
)

// Record is one message read from or written to the durable event log.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Publisher appends keyed records to a log topic. Keys determine the
// partition; per-key ordering is guaranteed by the transport.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// RecordHandler processes one consumed record. A nil return means the
// record has been fully disposed of (sunk or dead-lettered) and its offset
// may be committed; an error stops the consumer loop without committing.
type RecordHandler func(ctx context.Context, rec Record) error

// TradeSource delivers parsed trade envelopes from the upstream exchange
// gateway to the ingest service. Run blocks until ctx is cancelled or the
// source fails terminally.
type TradeSource interface {
	Run(ctx context.Context, handle func(ctx context.Context, t TradeEnvelope) error) error
}
