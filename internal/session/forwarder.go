package session

import (
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"gdb-bridge/internal/protocol"
)

// chunkSize bounds a single read; output is never reassembled into lines.
const chunkSize = 32 * 1024

// forward reads r until EOF and emits every chunk as it arrives, tagged with
// stream. Chunk boundaries are whatever the pipe delivers, except that a
// UTF-8 sequence split across reads is held back and emitted whole with the
// next chunk.
func forward(r io.Reader, stream protocol.Stream, emit func(protocol.ProcessOutput)) error {
	buf := make([]byte, chunkSize)
	pending := 0 // incomplete sequence carried at the front of buf

	for {
		n, err := r.Read(buf[pending:])
		n += pending
		if n > 0 {
			cut := completeRunes(buf[:n])
			if cut > 0 {
				emit(protocol.ProcessOutput{Stream: stream, Data: string(buf[:cut])})
			}
			pending = copy(buf, buf[cut:n])
		}
		if err != nil {
			if pending > 0 {
				emit(protocol.ProcessOutput{Stream: stream, Data: string(buf[:pending])})
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// completeRunes returns the length of b without a trailing incomplete UTF-8
// sequence. Invalid bytes count as complete.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
