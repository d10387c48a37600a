package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const (
	defaultQueueDepth  = 1024
	defaultSinkTimeout = 5 * time.Second
)

// RecorderConfig tunes a Recorder.
type RecorderConfig struct {
	QueueDepth  int
	SinkTimeout time.Duration
	Logger      pslog.Logger
	// Now stamps events. Defaults to time.Now.
	Now func() time.Time
}

// Recorder delivers session reports to sinks on a background goroutine.
// Reports never block the caller; they are dropped when the queue is full.
type Recorder struct {
	cfg   RecorderConfig
	sinks []Sink
	queue chan Event
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ core.Telemetry = (*Recorder)(nil)

// NewRecorder starts a recorder feeding sinks.
func NewRecorder(cfg RecorderConfig, sinks ...Sink) *Recorder {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Recorder{
		cfg:   cfg,
		sinks: sinks,
		queue: make(chan Event, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// ReportReplEvent enqueues a status transition.
func (r *Recorder) ReportReplEvent(language string, status string, sessionID schema.SessionID) {
	ev := Event{At: r.cfg.Now().UTC(), SessionID: sessionID, Language: language, Status: status}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		if r.cfg.Logger != nil {
			r.cfg.Logger.Trace("telemetry queue full; dropping", "session", sessionID, "status", status)
		}
	}
}

// Dropped returns the number of reports that were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting reports and waits for queued ones to reach the sinks.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.queue {
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SinkTimeout)
			err := sink.Record(ctx, ev)
			cancel()
			if err != nil && r.cfg.Logger != nil {
				r.cfg.Logger.Warn("telemetry sink failed", "session", ev.SessionID, "status", ev.Status, "err", err)
			}
		}
	}
}
