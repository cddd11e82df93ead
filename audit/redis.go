package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key entries are appended to.
const DefaultStream = "groupplanner:audit"

// streamAdder is the slice of the redis client RedisSink uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends entries to a Redis stream from a background goroutine.
// Record never blocks: when the buffer is full the entry is dropped and
// counted.
type RedisSink struct {
	rdb     streamAdder
	stream  string
	maxLen  int64
	log     *slog.Logger
	queue   chan Entry
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisSink creates a sink writing to stream. Call Run to start delivery.
func NewRedisSink(rdb *redis.Client, stream string, buffer int, log *slog.Logger) *RedisSink {
	return newRedisSink(rdb, stream, buffer, log)
}

func newRedisSink(rdb streamAdder, stream string, buffer int, log *slog.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &RedisSink{
		rdb:    rdb,
		stream: stream,
		maxLen: 100_000,
		log:    log.With("component", "audit.redis"),
		queue:  make(chan Entry, buffer),
		done:   make(chan struct{}),
	}
}

// Record enqueues e for delivery.
func (s *RedisSink) Record(e Entry) {
	select {
	case <-s.done:
		s.dropped.Add(1)
		return
	default:
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded.
func (s *RedisSink) Dropped() int64 { return s.dropped.Load() }

// Run drains the queue until ctx is cancelled or Close is called, then
// flushes whatever is still buffered.
func (s *RedisSink) Run(ctx context.Context) {
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		case <-ctx.Done():
			s.flush()
			return
		case <-s.done:
			s.flush()
			return
		}
	}
}

// Close stops Run.
func (s *RedisSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *RedisSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		default:
			return
		}
	}
}

func (s *RedisSink) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := s.rdb.XAdd(wctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamValues(e),
	}).Err()
	if err != nil {
		s.dropped.Add(1)
		s.log.Warn("audit entry not written", "kind", string(e.Kind), "err", err)
	}
}

// streamValues flattens e into stream fields.
func streamValues(e Entry) map[string]interface{} {
	v := map[string]interface{}{
		"kind":        string(e.Kind),
		"severity":    string(e.Severity),
		"conn_id":     e.ConnectionID,
		"remote_addr": e.RemoteAddr,
		"user_agent":  e.UserAgent,
		"ts":          e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.UserID != "" {
		v["user_id"] = e.UserID
	}
	if len(e.Context) > 0 {
		if raw, err := json.Marshal(e.Context); err == nil {
			v["context"] = string(raw)
		}
	}
	return v
}
