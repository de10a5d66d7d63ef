package hyserial

import (
	"log/slog"
	"sync"

	"hyserial/internal/engine"
	"hyserial/internal/serialdev"
	"hyserial/internal/telemetry"
)

// Serial is one open, configured device bound to its own engine and worker
// goroutine. Create one with a Builder.
type Serial struct {
	cfg    SerialConfig
	fd     int
	eng    *engine.Engine
	stats  *telemetry.Stats
	recent *telemetry.Recent
	logger *slog.Logger

	wg sync.WaitGroup

	closeOnce sync.Once
}

// Send copies data and submits it for asynchronous write. It returns
// immediately; completion (or failure) is reported through the write or
// error callback.
func (s *Serial) Send(data []byte) {
	s.eng.Send(data)
}

// StartRead begins continuous reading with a buffer of bufSize bytes
// (defaulting to the configured or default read buffer size when bufSize is
// 0). Each completed read is delivered through the read callback and the
// engine immediately rearms another read.
func (s *Serial) StartRead(bufSize int) {
	if bufSize <= 0 {
		bufSize = s.cfg.ReadBufferSize
	}
	s.eng.StartRead(s.fd, bufSize)
}

// StopRead stops rearming reads once the currently in-flight read
// completes. At most one trailing completion after StopRead returns is
// expected.
func (s *Serial) StopRead() {
	s.eng.StopRead()
}

// SetReadCallback installs (or replaces) the callback invoked for every
// completed read. data is only valid for the duration of the call.
func (s *Serial) SetReadCallback(cb func(data []byte)) {
	s.eng.SetReadCallback(engine.ReadCallback(cb))
}

// SetSendCallback installs (or replaces) the callback invoked when a send
// completes successfully.
func (s *Serial) SetSendCallback(cb func(bytesWritten int)) {
	s.eng.SetWriteCallback(engine.WriteCallback(cb))
}

// SetErrorCallback installs (or replaces) the callback invoked when a read
// or write completes with an error, when a submission finds the ring full,
// or when submitting a send fails. A failed read submission is only logged.
func (s *Serial) SetErrorCallback(cb func(errno int)) {
	s.eng.SetErrorCallback(engine.ErrorCallback(cb))
}

// Stats returns the engine's telemetry counters, or nil if none were
// configured on the Builder.
func (s *Serial) Stats() *telemetry.Stats {
	return s.stats
}

// Recent returns the engine's bounded recent-events ring, or nil if it was
// not enabled on the Builder.
func (s *Serial) Recent() *telemetry.Recent {
	return s.recent
}

// Flush discards any unread input and unwritten output on the device.
func (s *Serial) Flush() error {
	if err := serialdev.Flush(s.fd); err != nil {
		return newError(SocketFlushError, "%v", err)
	}
	return nil
}

// Close stops the completion loop, waits for the worker goroutine to
// return, then closes the ring and the device. Close is safe to call more
// than once.
func (s *Serial) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.eng.Stop()
		s.wg.Wait()
		if err := s.eng.Close(); err != nil {
			closeErr = err
		}
		if err := serialdev.Close(s.fd); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

func newSerial(cfg SerialConfig, fd int, eng *engine.Engine, stats *telemetry.Stats, recent *telemetry.Recent, logger *slog.Logger) *Serial {
	s := &Serial{cfg: cfg, fd: fd, eng: eng, stats: stats, recent: recent, logger: logger}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.eng.Run()
	}()
	return s
}
