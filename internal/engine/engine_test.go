package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asayers/tailsrv/internal/logging"
)

// dialAndSend opens a connection to addr, writes the header line, and
// returns the connection for the caller to read the payload from.
func dialAndSend(t *testing.T, addr net.Addr, offset int64) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "%d\n", offset)
	require.NoError(t, err)
	return conn
}

func readN(t *testing.T, conn net.Conn, n int, timeout time.Duration) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, err := io.ReadFull(conn, buf)
	require.NoErrorf(t, err, "read %d bytes", n)
	return buf
}

func startEngine(t *testing.T, path string) *Engine {
	t.Helper()
	eng, err := New(Options{
		Path:         path,
		Port:         0,
		PipeCapacity: 4096,
		Keepalive:    false,
		Log:          logging.New(io.Discard, 0, true),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return eng
}

func TestSingleClientStaticFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)
	conn := dialAndSend(t, eng.Addr(), 0)
	defer conn.Close()

	got := readN(t, conn, 10, 2*time.Second)
	if string(got) != "0123456789" {
		t.Fatalf("got %q", got)
	}
}

func TestNegativeOffset(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("abcdefghij"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)
	conn := dialAndSend(t, eng.Addr(), -3)
	defer conn.Close()

	got := readN(t, conn, 3, 2*time.Second)
	if string(got) != "hij" {
		t.Fatalf("got %q", got)
	}
}

func TestTailFollow(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)
	conn := dialAndSend(t, eng.Addr(), 0)
	defer conn.Close()

	got := readN(t, conn, 5, 2*time.Second)
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(" world"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got = readN(t, conn, 6, 3*time.Second)
	if string(got) != " world" {
		t.Fatalf("got %q", got)
	}
}

func TestTwoClientsDifferentOffsets(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)

	connA := dialAndSend(t, eng.Addr(), 0)
	defer connA.Close()
	connB := dialAndSend(t, eng.Addr(), 5)
	defer connB.Close()

	gotA := readN(t, connA, 10, 2*time.Second)
	if string(gotA) != "0123456789" {
		t.Fatalf("A got %q", gotA)
	}
	gotB := readN(t, connB, 5, 2*time.Second)
	if string(gotB) != "56789" {
		t.Fatalf("B got %q", gotB)
	}
}

func TestSlowReaderDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)

	slow := dialAndSend(t, eng.Addr(), 0)
	defer slow.Close()
	fast := dialAndSend(t, eng.Addr(), 0)
	defer fast.Close()

	got := readN(t, fast, 10, 2*time.Second)
	if string(got) != "0123456789" {
		t.Fatalf("fast client got %q", got)
	}
}

func TestTerminalFileEventShutsDown(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	eng, err := New(Options{
		Path:         path,
		Port:         0,
		PipeCapacity: 4096,
		Log:          logging.New(io.Discard, 0, true),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()

	conn := dialAndSend(t, eng.Addr(), 0)
	defer conn.Close()
	readN(t, conn, 1, 2*time.Second)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down after watched file was removed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after shutdown, got %v", err)
	}
}

func TestHeaderLargerThanLengthStaysOpenUntilGrowth(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/data"
	if err := os.WriteFile(path, []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, path)
	conn := dialAndSend(t, eng.Addr(), 5)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected no data yet, client requested an offset beyond file length")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("cdefgh"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got := readN(t, conn, 3, 3*time.Second)
	if string(got) != "fgh" {
		t.Fatalf("got %q", got)
	}
}
