package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/protocol"
)

// shortContext bounds how long Shutdown waits before killing leftovers.
func shortContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

// shStarter runs script under /bin/sh as a stand-in debugger.
func shStarter(script string) Starter {
	return ExecStarter("sh", []string{"-c", script}, "")
}

func TestExecStarter_NotFound(t *testing.T) {
	_, err := ExecStarter("/nonexistent/bin/gdb", []string{"--interpreter=mi2"}, "")()
	assert.Error(t, err)
}

func TestExecStarter_BadWorkDir(t *testing.T) {
	_, err := ExecStarter("sh", []string{"-c", "true"}, "/nonexistent/dir/xyz")()
	assert.Error(t, err)
}

func TestManager_EchoRoundTrip(t *testing.T) {
	mgr := NewManager(shStarter("exec cat"), Options{KillGrace: time.Second}, logger.Nop())
	defer mgr.Shutdown(shortContext(t))

	ch := newFakeChannel()
	_, err := mgr.Connect(ch)
	require.NoError(t, err)

	require.NoError(t, mgr.WriteInput([]byte("foo\n")))

	require.Eventually(t, func() bool {
		return gdbOutput(ch.sent(), "gdbRes") == "foo\n"
	}, waitFor, 10*time.Millisecond)
}

func TestManager_StderrForwarded(t *testing.T) {
	mgr := NewManager(shStarter("exec cat 1>&2"), Options{KillGrace: time.Second}, logger.Nop())
	defer mgr.Shutdown(shortContext(t))

	ch := newFakeChannel()
	_, err := mgr.Connect(ch)
	require.NoError(t, err)

	require.NoError(t, mgr.WriteInput([]byte("No symbol table is loaded.\n")))

	require.Eventually(t, func() bool {
		return gdbOutput(ch.sent(), "gdbErr") == "No symbol table is loaded.\n"
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, gdbOutput(ch.sent(), "gdbRes"))
}

func TestManager_OutputConcatenationReproducesBytes(t *testing.T) {
	// Large enough to span several pipe reads.
	script := `i=0; while [ $i -lt 2000 ]; do printf '%s\n' "~line $i"; i=$((i+1)); done`
	mgr := NewManager(shStarter(script), Options{}, logger.Nop())

	ch := newFakeChannel()
	_, err := mgr.Connect(ch)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		frames := ch.sent()
		return len(frames) > 0 && strings.Contains(frames[len(frames)-1], `"cmd":"exited"`)
	}, waitFor, 10*time.Millisecond)

	var want strings.Builder
	for i := 0; i < 2000; i++ {
		want.WriteString("~line " + strconv.Itoa(i) + "\n")
	}
	assert.Equal(t, want.String(), gdbOutput(ch.sent(), "gdbRes"))
}

func TestManager_QuitEndsRealProcess(t *testing.T) {
	// Exits when it reads the quit directive, like gdb does.
	script := `while read line; do [ "$line" = "q" ] && exit 3; done`
	mgr := NewManager(shStarter(script), Options{}, logger.Nop())

	first, err := mgr.Connect(newFakeChannel())
	require.NoError(t, err)
	_, err = mgr.Connect(newFakeChannel())
	require.NoError(t, err)
	defer mgr.Shutdown(shortContext(t))

	select {
	case <-first.Process().Done():
		assert.Equal(t, 3, first.Process().ExitCode())
	case <-time.After(waitFor):
		t.Fatal("expected first debugger to exit after quit")
	}
}

func TestManager_ExitCodeReported(t *testing.T) {
	mgr := NewManager(shStarter("exit 7"), Options{}, logger.Nop())
	ch := newFakeChannel()

	_, err := mgr.Connect(ch)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, f := range ch.sent() {
			if f == `{"cmd":"exited","exitCode":7}` {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
}

func TestForward_ChunksUnmodified(t *testing.T) {
	payload := "^done,bkpt={number=\"1\"}\n(gdb) \n"
	var got []protocol.ProcessOutput

	err := forward(iotest.OneByteReader(strings.NewReader(payload)), protocol.StreamPrimary, func(out protocol.ProcessOutput) {
		got = append(got, out)
	})
	require.NoError(t, err)

	// One chunk per read, no line reassembly.
	require.Len(t, got, len(payload))
	var sb strings.Builder
	for _, out := range got {
		assert.Equal(t, protocol.StreamPrimary, out.Stream)
		sb.WriteString(out.Data)
	}
	assert.Equal(t, payload, sb.String())
}

func TestForward_ReadError(t *testing.T) {
	err := forward(iotest.ErrReader(io.ErrUnexpectedEOF), protocol.StreamDiagnostic, func(protocol.ProcessOutput) {})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestForward_DataBeforeEOF(t *testing.T) {
	var got bytes.Buffer
	err := forward(iotest.DataErrReader(strings.NewReader("(gdb) ")), protocol.StreamPrimary, func(out protocol.ProcessOutput) {
		got.WriteString(out.Data)
	})
	require.NoError(t, err)
	assert.Equal(t, "(gdb) ", got.String())
}

func TestForward_KeepsSplitRunesWhole(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("caf\xc3"))
		pw.Write([]byte("\xa9\n"))
		pw.Write([]byte("\xe2\x82"))
		pw.Write([]byte("\xac 5\n"))
		pw.Close()
	}()

	var got strings.Builder
	err := forward(pr, protocol.StreamPrimary, func(out protocol.ProcessOutput) {
		assert.True(t, utf8.ValidString(out.Data), "chunk %q splits a rune", out.Data)

		// What the client receives must decode back to the same text.
		frame, err := json.Marshal(out)
		require.NoError(t, err)
		var decoded protocol.ProcessOutput
		require.NoError(t, json.Unmarshal(frame, &decoded))
		got.WriteString(decoded.Data)
	})
	require.NoError(t, err)
	assert.Equal(t, "café\n€ 5\n", got.String())
}

func TestForward_FlushesTruncatedRuneAtEOF(t *testing.T) {
	var got bytes.Buffer
	err := forward(strings.NewReader("(gdb) \xc3"), protocol.StreamPrimary, func(out protocol.ProcessOutput) {
		got.WriteString(out.Data)
	})
	require.NoError(t, err)
	assert.Equal(t, "(gdb) \xc3", got.String())
}

func TestCompleteRunes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"caf\xc3", 3},
		{"caf\xc3\xa9", 5},
		{"\xe2\x82", 0},
		{"x\xf0\x9f\x98", 1},
		{"\xff", 1},
		{"\x80\x80", 2},
	}
	for _, tt := range tests {
		if got := completeRunes([]byte(tt.in)); got != tt.want {
			t.Errorf("completeRunes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStdinWriter_ClosedReturnsError(t *testing.T) {
	sw := newStdinWriter(nopWriteCloser{})
	sw.Close()
	assert.ErrorIs(t, sw.Write([]byte("run\n"), 0), ErrStdinClosed)
	// Closing twice is safe.
	sw.Close()
}

func TestStdinWriter_TimeoutWhenStalled(t *testing.T) {
	stalled := newStalledStdin()
	sw := newStdinWriter(stalled)

	blocked := make(chan error, 1)
	go func() { blocked <- sw.Write([]byte("-exec-run\n"), 0) }()
	<-stalled.entered

	start := time.Now()
	err := sw.Write([]byte("q\n"), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Less(t, time.Since(start), waitFor)

	// Closing the pipe releases the stuck write.
	sw.Close()
	select {
	case err := <-blocked:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("stalled write was not released by Close")
	}
}

func TestStdinWriter_PreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	sw := newStdinWriter(&bufferWriteCloser{buf: &buf})
	defer sw.Close()

	for _, cmd := range []string{"-break-insert main\n", "-exec-run\n", "q\n"} {
		require.NoError(t, sw.Write([]byte(cmd), time.Second))
	}
	assert.Equal(t, "-break-insert main\n-exec-run\nq\n", buf.String())
}

func TestManager_ReplaceDebuggerThatIgnoresStdin(t *testing.T) {
	// sleep never reads its input, so a large write fills the pipe and stalls.
	mgr := NewManager(shStarter("exec sleep 30"), Options{KillGrace: 100 * time.Millisecond}, logger.Nop())
	defer mgr.Shutdown(shortContext(t))

	first, err := mgr.Connect(newFakeChannel())
	require.NoError(t, err)

	go mgr.WriteInput(make([]byte, 1<<20))
	time.Sleep(50 * time.Millisecond)

	connected := make(chan error, 1)
	go func() {
		_, err := mgr.Connect(newFakeChannel())
		connected <- err
	}()

	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("second Connect blocked behind a stalled debugger")
	}

	select {
	case <-first.Process().Done():
	case <-time.After(waitFor):
		t.Fatal("expected stalled debugger to be killed after the grace period")
	}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

type bufferWriteCloser struct {
	buf *bytes.Buffer
}

func (w *bufferWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *bufferWriteCloser) Close() error                { return nil }
