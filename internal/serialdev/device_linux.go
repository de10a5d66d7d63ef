//go:build linux

package serialdev

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// baudToSpeed maps a numeric baud rate onto the termios speed_t constant,
// the same table the original device opener and allbin-go-serial both
// carry.
func baudToSpeed(baud uint32) (uint32, bool) {
	switch baud {
	case 0:
		return unix.B0, true
	case 50:
		return unix.B50, true
	case 75:
		return unix.B75, true
	case 110:
		return unix.B110, true
	case 134:
		return unix.B134, true
	case 150:
		return unix.B150, true
	case 200:
		return unix.B200, true
	case 300:
		return unix.B300, true
	case 600:
		return unix.B600, true
	case 1200:
		return unix.B1200, true
	case 1800:
		return unix.B1800, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	case 1000000:
		return unix.B1000000, true
	case 1152000:
		return unix.B1152000, true
	case 1500000:
		return unix.B1500000, true
	case 2000000:
		return unix.B2000000, true
	default:
		return 0, false
	}
}

// Open opens and configures cfg.DevicePath in raw mode, returning the fd on
// success. The fd is opened O_NONBLOCK to avoid blocking on open() when
// modem lines aren't asserted, then cleared back to blocking once
// configured, matching the original's ensure_connected.
func Open(cfg Config) (int, error) {
	fd, err := unix.Open(cfg.DevicePath, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: open %q: %v", ErrCreateFailed, cfg.DevicePath, err)
	}

	if err := configure(fd, cfg); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if cfg.RTSDTROn {
		assertRTSDTR(fd)
	}

	unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err == nil {
		unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}

	return fd, nil
}

func configure(fd int, cfg Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("%w: get attributes: %v", ErrBindFailed, err)
	}

	speed, ok := baudToSpeed(cfg.BaudRate)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, cfg.BaudRate)
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	termios.Cflag &^= unix.CSIZE
	switch cfg.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if cfg.Parity == 0 {
		termios.Cflag &^= unix.PARENB
	} else {
		termios.Cflag |= unix.PARENB
		if cfg.Parity == 1 {
			termios.Cflag |= unix.PARODD
		} else {
			termios.Cflag &^= unix.PARODD
		}
	}

	if cfg.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	} else {
		termios.Cflag &^= unix.CSTOPB
	}

	switch cfg.FlowControl {
	case 1:
		termios.Cflag |= unix.CRTSCTS
		termios.Iflag &^= unix.IXON | unix.IXOFF
	case 2:
		termios.Cflag &^= unix.CRTSCTS
		termios.Iflag |= unix.IXON | unix.IXOFF
	default:
		termios.Cflag &^= unix.CRTSCTS
		termios.Iflag &^= unix.IXON | unix.IXOFF
	}

	termios.Cflag |= unix.CREAD | unix.CLOCAL
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.ICRNL | unix.INLCR | unix.PARMRK | unix.INPCK | unix.ISTRIP
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("%w: set attributes: %v", ErrBindFailed, err)
	}
	return nil
}

// assertRTSDTR asserts RTS and DTR via TIOCMSET, best-effort: a failure
// here is non-fatal, matching the original's ignored ioctl error.
func assertRTSDTR(fd int) {
	status, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return
	}
	status |= unix.TIOCM_RTS | unix.TIOCM_DTR
	unix.IoctlSetInt(fd, unix.TIOCMSET, status)
}

// Flush discards any unread input and unwritten output on fd.
func Flush(fd int) error {
	if fd < 0 {
		return ErrInvalidHandle
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}
	return nil
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}
