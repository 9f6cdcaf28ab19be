package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// fakeReader hands out a fixed batch of messages, then blocks until the
// fetch context expires, like a reader sitting on an idle partition.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed [][]kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, append([]kafka.Message(nil), msgs...))
	return nil
}

func (f *fakeReader) Close() error { return nil }

func testConsumer(reader *fakeReader, commitEvery int, commitInterval time.Duration) *Consumer {
	return &Consumer{
		reader:         reader,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:        metrics.New("test"),
		commitEvery:    commitEvery,
		commitInterval: commitInterval,
	}
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "trades.raw", Partition: 0, Offset: int64(i), Value: []byte{byte(i)}}
	}
	return out
}

func TestCommitIntervalFiresWithoutNewMessages(t *testing.T) {
	reader := &fakeReader{msgs: messages(3)}
	c := testConsumer(reader, 100, 50*time.Millisecond)

	var flushes int
	c.BeforeCommit = func(context.Context) error {
		flushes++
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(context.Context, domain.Record) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.NotEmpty(t, reader.committed, "the interval commits the batch even though no fourth message arrives")
	assert.Len(t, reader.committed[0], 3)
	assert.GreaterOrEqual(t, flushes, 1, "the pre-commit flush runs on interval commits")
}

func TestQuietPeriodDoesNotBusyCommit(t *testing.T) {
	reader := &fakeReader{}
	c := testConsumer(reader, 100, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(context.Context, domain.Record) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Empty(t, reader.committed, "nothing pending means nothing to commit")
}

func TestCommitEveryBatchSize(t *testing.T) {
	reader := &fakeReader{msgs: messages(5)}
	c := testConsumer(reader, 2, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(context.Context, domain.Record) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.GreaterOrEqual(t, len(reader.committed), 2)
	assert.Len(t, reader.committed[0], 2)
	assert.Len(t, reader.committed[1], 2)
}

func TestHandlerErrorStopsLoopAndCommitsDisposedRecords(t *testing.T) {
	reader := &fakeReader{msgs: messages(3)}
	c := testConsumer(reader, 100, time.Minute)

	boom := errors.New("sink down")
	var seen int
	err := c.Run(context.Background(), func(context.Context, domain.Record) error {
		seen++
		if seen == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.Len(t, reader.committed, 1, "the two disposed records commit; the failed one does not")
	assert.Len(t, reader.committed[0], 2)
	assert.Equal(t, int64(1), reader.committed[0][1].Offset)
}

func TestShutdownFlushesPendingOffsets(t *testing.T) {
	reader := &fakeReader{msgs: messages(2)}
	c := testConsumer(reader, 100, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	handled := 0
	err := c.Run(ctx, func(context.Context, domain.Record) error {
		handled++
		if handled == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.Len(t, reader.committed, 1)
	assert.Len(t, reader.committed[0], 2)
}

func TestPreCommitFlushErrorSkipsCommit(t *testing.T) {
	reader := &fakeReader{msgs: messages(2)}
	c := testConsumer(reader, 2, time.Minute)
	c.BeforeCommit = func(context.Context) error { return errors.New("flush failed") }

	err := c.Run(context.Background(), func(context.Context, domain.Record) error { return nil })
	require.Error(t, err)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Empty(t, reader.committed, "offsets never advance past an undurable buffer")
}
