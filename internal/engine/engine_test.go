//go:build linux

package engine

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestEngine(t *testing.T) (*Engine, func() error) {
	t.Helper()
	e, err := New(Config{QueueDepth: 16})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run()
	}()

	stop := func() error {
		e.Stop()
		<-done
		return e.Close()
	}
	return e, stop
}

// makeRaw switches the pty slave out of canonical mode and output
// post-processing, so bytes pass through unchanged and every read completes
// as soon as any input is available, the way serialdev.Open configures a
// real device.
func makeRaw(t *testing.T, f *os.File) {
	t.Helper()
	fd := int(f.Fd())
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	require.NoError(t, err)
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	require.NoError(t, unix.IoctlSetTermios(fd, unix.TCSETS, termios))
}

func TestEngineReadDeliversMasterWrite(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	makeRaw(t, slave)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	lines := make(chan string, 1)
	e.SetReadCallback(func(data []byte) {
		lines <- string(data)
	})

	e.StartRead(int(slave.Fd()), 128)

	_, err = master.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-lines:
		require.Equal(t, "ping", got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read completion")
	}
}

func TestEngineSendDeliversToMaster(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	e.BindFD(int(slave.Fd()))

	written := make(chan int, 1)
	e.SetWriteCallback(func(n int) {
		written <- n
	})

	e.Send([]byte("pong"))

	select {
	case n := <-written:
		require.Equal(t, 4, n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for write completion")
	}

	buf := make([]byte, 4)
	master.SetReadDeadline(time.Now().Add(time.Second))
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}

func TestEngineStopReadAllowsOneTrailingCompletion(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	makeRaw(t, slave)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	reads := make(chan string, 4)
	e.SetReadCallback(func(data []byte) {
		reads <- string(data)
	})

	e.StartRead(int(slave.Fd()), 128)

	_, err = master.Write([]byte("a"))
	require.NoError(t, err)

	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first read")
	}

	e.StopRead()

	_, err = master.Write([]byte("b"))
	require.NoError(t, err)

	select {
	case got := <-reads:
		require.Equal(t, "b", got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the trailing read after StopRead")
	}

	select {
	case got := <-reads:
		t.Fatalf("unexpected extra read after StopRead: %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngineErrorCallbackReceivesEAGAINWhenRingExhausted(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	e.BindFD(int(slave.Fd()))

	errs := make(chan int, 32)
	e.SetErrorCallback(func(errno int) {
		errs <- errno
	})

	// The ring has queue depth 16; flood it with sends so at least one
	// submission finds no free SQE and is reported rather than dropped.
	for i := 0; i < 64; i++ {
		e.Send([]byte("x"))
	}

	select {
	case errno := <-errs:
		require.Equal(t, EAGAIN, errno)
	case <-time.After(2 * time.Second):
		t.Skip("ring never exhausted under this scheduling; not a determinism guarantee")
	}
}

// drainInBackground continuously reads from r until the test cleans it up,
// so a large write into the paired end never blocks on a full tty buffer.
func drainInBackground(t *testing.T, r *os.File) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := r.Read(buf); err != nil {
				return
			}
		}
	}()
}

func TestEngineSendZeroLengthDeliversWriteCallbackOnce(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	e.BindFD(int(slave.Fd()))

	written := make(chan int, 4)
	e.SetWriteCallback(func(n int) { written <- n })

	e.Send(nil)

	select {
	case n := <-written:
		require.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for nil-payload write completion")
	}

	e.Send([]byte{})

	select {
	case n := <-written:
		require.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for empty-slice write completion")
	}
}

func TestEngineSendLargePayloadDeliversWriteCallbackExactlyOnce(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	makeRaw(t, slave)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	e.BindFD(int(slave.Fd()))

	const size = 64 * 1024
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	var received int64
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for atomic.LoadInt64(&received) < size {
			n, err := master.Read(buf)
			if n > 0 {
				atomic.AddInt64(&received, int64(n))
			}
			if err != nil {
				break
			}
		}
		close(drained)
	}()

	written := make(chan int, 2)
	e.SetWriteCallback(func(n int) { written <- n })

	// Sized well past the tty line discipline's internal buffering, so the
	// kernel is likely to hand the write back to io_uring in more than one
	// chunk (spec.md §8 scenario 3); regardless of whether it splits on a
	// given kernel, exactly one write_cb with the full length must result.
	e.Send(payload)

	select {
	case n := <-written:
		require.Equal(t, size, n)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for large write completion")
	}

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reader to drain the payload")
	}
	require.Equal(t, int64(size), atomic.LoadInt64(&received))

	select {
	case n := <-written:
		t.Fatalf("unexpected extra write_cb call: %d", n)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestEngineDispatchWriteContinuesPartialWriteUntilFullLength drives
// dispatchWrite directly with a synthetic short-write result, deterministically
// forcing the resubmitPartialWrite offset-continuation branch that a real pty
// write only exercises on some kernels. The continuation write is real: it
// goes through the running engine and the actual ring, so the eventual
// write_cb reflects a genuine second completion, not a mocked one.
func TestEngineDispatchWriteContinuesPartialWriteUntilFullLength(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	drainInBackground(t, master)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	fd := int(slave.Fd())
	e.BindFD(fd)

	written := make(chan int, 2)
	e.SetWriteCallback(func(n int) { written <- n })

	buf := []byte("full-payload-longer-than-the-simulated-short-write")
	id := e.nextID.Add(1)
	rec := requestRecord{id: id, fd: fd, isWrite: true, buf: buf, offset: 0}

	e.submitMu.Lock()
	e.storeRecord(id, rec)
	e.submitMu.Unlock()

	// Simulate the kernel reporting a short write of the first 5 bytes.
	e.dispatchWrite(id, rec, 5)

	select {
	case n := <-written:
		require.Equal(t, len(buf), n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the continued write to complete")
	}

	select {
	case n := <-written:
		t.Fatalf("unexpected extra write_cb call: %d", n)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestEngineSetReadCallbackHotSwapFreezesOldCallbackCount drives a batch of
// reads through one read callback, swaps to a second callback from a
// separate goroutine while a read may already be armed against the ring, and
// asserts the swap is clean: the old callback's tally freezes exactly at the
// batch size it was installed for, and the new callback accounts for
// everything after. atomic.Pointer is the only thing guarding this — a torn
// swap would show up here as a completion delivered to neither callback, or
// to both.
func TestEngineSetReadCallbackHotSwapFreezesOldCallbackCount(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	makeRaw(t, slave)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	const firstBatch = 10
	const secondBatch = 10

	var count1 int64
	firstDone := make(chan struct{})
	e.SetReadCallback(func(data []byte) {
		n := atomic.AddInt64(&count1, 1)
		if n == firstBatch {
			close(firstDone)
		}
	})

	e.StartRead(int(slave.Fd()), 1)

	for i := 0; i < firstBatch; i++ {
		_, err := master.Write([]byte{'a'})
		require.NoError(t, err)
	}

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the first batch of reads")
	}

	var count2 int64
	secondDone := make(chan struct{})
	e.SetReadCallback(func(data []byte) {
		n := atomic.AddInt64(&count2, 1)
		if n == secondBatch {
			close(secondDone)
		}
	})

	for i := 0; i < secondBatch; i++ {
		_, err := master.Write([]byte{'b'})
		require.NoError(t, err)
	}

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the second batch of reads")
	}

	require.Equal(t, int64(firstBatch), atomic.LoadInt64(&count1))
	require.Equal(t, int64(secondBatch), atomic.LoadInt64(&count2))
}

// TestEngineFramedStreamReassemblesInOrder simulates an application-level
// framing protocol on top of the engine's raw byte-span read delivery: 1000
// fixed-size frames, each carrying its own sequence number, are written in
// order and must be recovered in order once accumulated back into
// frame-sized chunks. The engine itself stays byte-transparent; the
// reassembly buffer here lives entirely in the test, the same way a caller
// would build it on top of the read callback.
func TestEngineFramedStreamReassemblesInOrder(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	makeRaw(t, slave)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	const frameSize = 32
	const frameCount = 1000

	var mu sync.Mutex
	var acc []byte
	seqs := make([]uint32, 0, frameCount)
	allReceived := make(chan struct{})

	e.SetReadCallback(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		acc = append(acc, data...)
		for len(acc) >= frameSize {
			seqs = append(seqs, binary.BigEndian.Uint32(acc[:4]))
			acc = acc[frameSize:]
		}
		if len(seqs) >= frameCount {
			select {
			case <-allReceived:
			default:
				close(allReceived)
			}
		}
	})

	e.StartRead(int(slave.Fd()), frameSize)

	go func() {
		frame := make([]byte, frameSize)
		for i := uint32(0); i < frameCount; i++ {
			binary.BigEndian.PutUint32(frame, i)
			if _, err := master.Write(frame); err != nil {
				return
			}
		}
	}()

	select {
	case <-allReceived:
	case <-time.After(10 * time.Second):
		mu.Lock()
		got := len(seqs)
		mu.Unlock()
		t.Fatalf("timeout: reassembled %d/%d frames", got, frameCount)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, frameCount)
	for i, s := range seqs {
		require.Equal(t, uint32(i), s, "frame %d out of order", i)
	}
}

// TestEngineDispatchWriteRetriesAfterEINTR exercises retryWrite the same
// deterministic way: a synthetic -EINTR completion forces a retry of the
// whole buffer, and the eventual write_cb must report the full length once.
func TestEngineDispatchWriteRetriesAfterEINTR(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	drainInBackground(t, master)

	e, stop := newTestEngine(t)
	t.Cleanup(func() { stop() })

	fd := int(slave.Fd())
	e.BindFD(fd)

	written := make(chan int, 2)
	e.SetWriteCallback(func(n int) { written <- n })

	buf := []byte("retry-me")
	id := e.nextID.Add(1)
	rec := requestRecord{id: id, fd: fd, isWrite: true, buf: buf, offset: 0}

	e.submitMu.Lock()
	e.storeRecord(id, rec)
	e.submitMu.Unlock()

	e.dispatchWrite(id, rec, -int(unix.EINTR))

	select {
	case n := <-written:
		require.Equal(t, len(buf), n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the retried write to complete")
	}

	select {
	case n := <-written:
		t.Fatalf("unexpected extra write_cb call: %d", n)
	case <-time.After(200 * time.Millisecond):
	}
}
