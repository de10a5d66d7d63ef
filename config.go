package hyserial

// DataBits is the number of data bits per frame.
type DataBits uint8

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// StopBits is the number of stop bits per frame.
type StopBits uint8

const (
	StopBits1 StopBits = 1
	StopBits2 StopBits = 2
)

// Parity is the frame's parity mode.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// FlowControl selects hardware or software flow control, or none.
type FlowControl uint8

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
	FlowControlXonXoff
)

// SerialConfig describes how to open and configure a serial device.
type SerialConfig struct {
	DevicePath  string
	BaudRate    uint32
	DataBits    DataBits
	StopBits    StopBits
	Parity      Parity
	FlowControl FlowControl
	RTSDTROn    bool

	// QueueDepth sizes the engine's io_uring ring and request arena.
	// Zero selects the default of 256.
	QueueDepth int

	// ReadBufferSize sizes the buffer StartRead reads into. Zero selects
	// the default of 4096 bytes.
	ReadBufferSize int
}

// DefaultConfig returns the same defaults the original engine's
// SerialConfig carries.
func DefaultConfig() SerialConfig {
	return SerialConfig{
		DevicePath:     "/dev/ttyUSB0",
		BaudRate:       115200,
		DataBits:       DataBits8,
		StopBits:       StopBits1,
		Parity:         ParityNone,
		FlowControl:    FlowControlNone,
		RTSDTROn:       false,
		QueueDepth:     256,
		ReadBufferSize: 4096,
	}
}
