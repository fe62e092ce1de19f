// Package logsink implements the single-writer, multi-format, multi-stream
// log sink that all Users send Request/Task/Error/Debug events to. The
// send side is never allowed to block on a slow or stuck file: Send
// enqueues onto an unbounded in-memory queue and returns immediately,
// trading memory for isolating the measurement path from file I/O.
package logsink

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Config selects which of the four streams are enabled and in what format.
type Config struct {
	Request StreamConfig
	Task    StreamConfig
	Error   StreamConfig
	Debug   StreamConfig

	// NoDebugBody suppresses body capture in Debug Records even when a
	// debug stream is enabled.
	NoDebugBody bool
	// RequestBody additionally captures request bodies in Debug Records.
	RequestBody bool
}

// Sink owns up to four output streams and the single background goroutine
// that drains the event queue into them.
type Sink struct {
	log logrus.FieldLogger
	cfg Config

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}

	request *stream
	task    *stream
	errs    *stream
	debug   *stream

	writeErrOnce map[string]bool
}

// New opens the configured streams (a stream whose file cannot be opened is
// logged and disabled, not fatal) and starts the drain goroutine.
func New(cfg Config, log logrus.FieldLogger) *Sink {
	captureBody := cfg.RequestBody || !cfg.NoDebugBody
	s := &Sink{
		log:          log,
		cfg:          cfg,
		done:         make(chan struct{}),
		request:      newStream("request", cfg.Request, captureBody, log),
		task:         newStream("task", cfg.Task, captureBody, log),
		errs:         newStream("error", cfg.Error, captureBody, log),
		debug:        newStream("debug", cfg.Debug, captureBody, log),
		writeErrOnce: make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Send enqueues ev without blocking, even if every file is currently stuck
// on I/O. Safe to call after Close; the event is silently dropped.
func (s *Sink) Send(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

// Close signals end-of-stream, waits for the queue to drain, flushes all
// buffers in the fixed order debug/request/task/error, and closes the
// files.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
	<-s.done

	for _, st := range []*stream{s.debug, s.request, s.task, s.errs} {
		if st == nil {
			continue
		}
		if err := st.close(); err != nil {
			s.log.WithError(err).Warnf("%s log: close failed", st.name)
		}
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.dispatch(ev)
		}
	}
}

func (s *Sink) dispatch(ev Event) {
	var st *stream
	switch ev.Kind {
	case KindRequest:
		st = s.request
	case KindTask:
		st = s.task
	case KindError:
		st = s.errs
	case KindDebug:
		st = s.debug
	}
	if st == nil {
		return
	}
	if err := st.write(ev); err != nil {
		// A write failure is logged once per file and dropped.
		if !s.writeErrOnce[st.name] {
			s.writeErrOnce[st.name] = true
			s.log.WithError(err).Warnf("%s log: write failed, further errors on this stream are suppressed", st.name)
		}
	}
}
