package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

const defaultQueueSize = 256

// asyncWriter fans log records out to the sinks from a single goroutine.
// A full queue blocks the caller instead of dropping records.
type asyncWriter struct {
	queue   chan []byte
	flushCh chan chan error
	done    chan struct{}

	// mu guards closed so Write never sends on a closed queue.
	mu     sync.RWMutex
	closed bool

	sinks []*bufio.Writer

	errMu    sync.Mutex
	firstErr error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	aw := &asyncWriter{
		queue:   make(chan []byte, defaultQueueSize),
		flushCh: make(chan chan error),
		done:    make(chan struct{}),
	}
	for _, w := range writers {
		if w != nil {
			aw.sinks = append(aw.sinks, bufio.NewWriterSize(w, bufSize))
		}
	}
	go aw.run()
	return aw
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				w.recordErr(w.flushSinks())
				return
			}
			w.recordErr(w.writeSinks(rec))
		case ack := <-w.flushCh:
			ack <- w.flushSinks()
		}
	}
}

// Write queues a copy of p.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	rec := append([]byte(nil), p...)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.queue <- rec
	return nil
}

// Flush blocks until every queued record reached the sinks.
func (w *asyncWriter) Flush() error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		<-w.done
		return w.err()
	}
	ack := make(chan error, 1)
	select {
	case w.flushCh <- ack:
		return <-ack
	case <-w.done:
		return w.err()
	}
}

// Close drains the queue and returns the first write error. Later calls are no-ops.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return w.err()
}

func (w *asyncWriter) writeSinks(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	for _, sink := range w.sinks {
		if _, err := sink.Write(p); err != nil {
			return err
		}
		if err := sink.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushSinks() error {
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.firstErr
}

func (w *asyncWriter) recordErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.firstErr == nil {
		w.firstErr = err
	}
}
