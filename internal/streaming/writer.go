package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"chromi/internal/logging"
)

var (
	// ErrWriteTimeout means a single write to the client took too long.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context was canceled mid-stream.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled means the writer was closed or stalled.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Config bounds a download stream.
type Config struct {
	// WriteTimeout caps one write to the client.
	WriteTimeout time.Duration
	// IdleTimeout cancels the stream when no write succeeded for this long.
	IdleTimeout time.Duration
	// ChunkSize splits writes so cancellation is noticed between chunks.
	ChunkSize int
}

// DefaultConfig suits GIF downloads of a few megabytes.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer wraps an http.ResponseWriter so a stalled client cannot hold a
// handler forever.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config

	mu        sync.Mutex
	started   time.Time
	lastWrite time.Time
	written   int64
	closed    bool
}

// NewWriter starts the idle watchdog; Close stops it.
func NewWriter(parent context.Context, w http.ResponseWriter, cfg Config) *Writer {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	sw := &Writer{
		w:         w,
		parent:    parent,
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		started:   now,
		lastWrite: now,
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	go sw.watchIdle()
	return sw
}

// Write implements io.Writer.
func (sw *Writer) Write(p []byte) (int, error) {
	sw.mu.Lock()
	closed := sw.closed
	sw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}

	total := 0
	for len(p) > 0 {
		if err := sw.ctxErr(); err != nil {
			return total, err
		}

		n := len(p)
		if sw.cfg.ChunkSize > 0 && n > sw.cfg.ChunkSize {
			n = sw.cfg.ChunkSize
		}

		written, err := sw.writeChunk(p[:n])
		total += written
		if err != nil {
			return total, err
		}
		p = p[n:]

		if sw.flusher != nil {
			sw.flusher.Flush()
		}
	}
	return total, nil
}

func (sw *Writer) writeChunk(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := sw.w.Write(p)
		done <- result{n, err}
	}()

	var timeout <-chan time.Time
	if sw.cfg.WriteTimeout > 0 {
		timer := time.NewTimer(sw.cfg.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err == nil {
			sw.mu.Lock()
			sw.lastWrite = time.Now()
			sw.written += int64(r.n)
			sw.mu.Unlock()
		}
		return r.n, r.err
	case <-timeout:
		sw.cancel()
		return 0, ErrWriteTimeout
	case <-sw.ctx.Done():
		return 0, sw.ctxErr()
	}
}

func (sw *Writer) watchIdle() {
	if sw.cfg.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(sw.cfg.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.mu.Lock()
			idle := time.Since(sw.lastWrite)
			sw.mu.Unlock()
			if idle > sw.cfg.IdleTimeout {
				logging.Warn("Download stalled for %v, closing stream", idle.Round(time.Second))
				sw.cancel()
				return
			}
		case <-sw.ctx.Done():
			return
		}
	}
}

func (sw *Writer) ctxErr() error {
	switch {
	case sw.ctx.Err() == nil:
		return nil
	case sw.parent.Err() != nil:
		return ErrClientGone
	default:
		return ErrStreamCanceled
	}
}

// Close stops the watchdog. Further writes fail with ErrStreamCanceled.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.closed = true
		sw.cancel()
	}
	return nil
}

// Stats returns the bytes written so far and the stream's age.
func (sw *Writer) Stats() (int64, time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written, time.Since(sw.started)
}

// Copy streams r to w under cfg and returns the number of bytes sent.
// Headers must be set before calling.
func Copy(ctx context.Context, w http.ResponseWriter, r io.Reader, cfg Config) (int64, error) {
	sw := NewWriter(ctx, w, cfg)
	defer func() {
		_ = sw.Close()
	}()

	_, err := io.Copy(sw, r)
	n, elapsed := sw.Stats()
	logging.Debug("Streamed %d bytes in %v", n, elapsed.Round(time.Millisecond))
	return n, err
}
