package serialdev

// Config is the device-opener's own view of connection parameters, kept
// independent of the root package's SerialConfig so this package never
// needs to import back up to it.
type Config struct {
	DevicePath  string
	BaudRate    uint32
	DataBits    uint8
	StopBits    uint8
	Parity      uint8 // 0 none, 1 odd, 2 even
	FlowControl uint8 // 0 none, 1 rts/cts, 2 xon/xoff
	RTSDTROn    bool
}
