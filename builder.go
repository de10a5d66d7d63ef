package hyserial

import (
	"errors"
	"log/slog"

	"hyserial/internal/engine"
	"hyserial/internal/serialdev"
	"hyserial/internal/telemetry"
)

// Builder assembles a Serial with a fluent, chainable API.
type Builder struct {
	cfg SerialConfig

	readCB  func(data []byte)
	writeCB func(bytesWritten int)
	errorCB func(errno int)

	logger         *slog.Logger
	enableStats    bool
	recentCapacity int
}

// NewBuilder returns a Builder seeded with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) Device(path string) *Builder {
	b.cfg.DevicePath = path
	return b
}

func (b *Builder) BaudRate(baud uint32) *Builder {
	b.cfg.BaudRate = baud
	return b
}

func (b *Builder) DataBits(bits DataBits) *Builder {
	b.cfg.DataBits = bits
	return b
}

func (b *Builder) Parity(p Parity) *Builder {
	b.cfg.Parity = p
	return b
}

func (b *Builder) StopBits(s StopBits) *Builder {
	b.cfg.StopBits = s
	return b
}

func (b *Builder) FlowControl(f FlowControl) *Builder {
	b.cfg.FlowControl = f
	return b
}

func (b *Builder) RTSDTROn(on bool) *Builder {
	b.cfg.RTSDTROn = on
	return b
}

func (b *Builder) QueueDepth(depth int) *Builder {
	b.cfg.QueueDepth = depth
	return b
}

func (b *Builder) ReadBufferSize(size int) *Builder {
	b.cfg.ReadBufferSize = size
	return b
}

// OnRead installs the read callback that will be registered once the
// engine is built.
func (b *Builder) OnRead(cb func(data []byte)) *Builder {
	b.readCB = cb
	return b
}

// OnWrite installs the write callback that will be registered once the
// engine is built.
func (b *Builder) OnWrite(cb func(bytesWritten int)) *Builder {
	b.writeCB = cb
	return b
}

// OnError installs the error callback that will be registered once the
// engine is built.
func (b *Builder) OnError(cb func(errno int)) *Builder {
	b.errorCB = cb
	return b
}

// WithLogger overrides the slog.Logger the engine and device layer log
// through. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithStats enables the telemetry counters, retrievable afterward via
// Serial.Stats.
func (b *Builder) WithStats() *Builder {
	b.enableStats = true
	return b
}

// WithRecentEvents enables the bounded recent-events ring, retaining at most
// capacity read/write/error events, retrievable afterward via Serial.Recent.
func (b *Builder) WithRecentEvents(capacity int) *Builder {
	b.recentCapacity = capacity
	return b
}

// Build opens the configured device, creates its engine, and starts the
// completion-loop worker goroutine.
func (b *Builder) Build() (*Serial, error) {
	if b.cfg.DevicePath == "" {
		return nil, newError(SocketCreateError, "device path empty")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := serialdev.Open(serialdev.Config{
		DevicePath:  b.cfg.DevicePath,
		BaudRate:    b.cfg.BaudRate,
		DataBits:    uint8(b.cfg.DataBits),
		StopBits:    uint8(b.cfg.StopBits),
		Parity:      uint8(b.cfg.Parity),
		FlowControl: uint8(b.cfg.FlowControl),
		RTSDTROn:    b.cfg.RTSDTROn,
	})
	if err != nil {
		return nil, mapOpenError(err, b.cfg.DevicePath)
	}

	var stats *telemetry.Stats
	if b.enableStats {
		stats = telemetry.New()
	}

	var recent *telemetry.Recent
	if b.recentCapacity > 0 {
		recent = telemetry.NewRecent(b.recentCapacity)
	}

	eng, err := engine.New(engine.Config{
		QueueDepth: b.cfg.QueueDepth,
		Logger:     logger,
		Stats:      stats,
		Recent:     recent,
	})
	if err != nil {
		serialdev.Close(fd)
		return nil, newError(UringInitError, "%v", err)
	}

	eng.BindFD(fd)
	if b.readCB != nil {
		eng.SetReadCallback(engine.ReadCallback(b.readCB))
	}
	if b.writeCB != nil {
		eng.SetWriteCallback(engine.WriteCallback(b.writeCB))
	}
	if b.errorCB != nil {
		eng.SetErrorCallback(engine.ErrorCallback(b.errorCB))
	}

	return newSerial(b.cfg, fd, eng, stats, recent, logger), nil
}

// mapOpenError classifies a serialdev sentinel error onto the public
// ErrorCode taxonomy.
func mapOpenError(err error, devicePath string) *Error {
	switch {
	case errors.Is(err, serialdev.ErrUnsupportedBaud):
		return newError(UnsupportedBaud, "%v", err)
	case errors.Is(err, serialdev.ErrCreateFailed):
		return newError(SocketCreateError, "%v", err)
	case errors.Is(err, serialdev.ErrBindFailed):
		return newError(SocketBindError, "%v", err)
	case errors.Is(err, serialdev.ErrInvalidHandle):
		return newError(InvalidSocketError, "%v", err)
	case errors.Is(err, serialdev.ErrFlushFailed):
		return newError(SocketFlushError, "%v", err)
	default:
		return newError(SocketCreateError, "open %q: %v", devicePath, err)
	}
}
