package protocol

import (
	"encoding/json"
	"errors"
)

// QueryKind names a directory query.
type QueryKind string

const (
	QueryCwd   QueryKind = "cwd"
	QueryLs    QueryKind = "ls"
	QueryWatch QueryKind = "watch"
)

// Client → Server command names carried in the "cmd" field.
const (
	CmdCwd     = string(QueryCwd)
	CmdLs      = string(QueryLs)
	CmdWatch   = string(QueryWatch)
	CmdUnwatch = "unwatch"
)

// Server → Client command names.
const (
	CmdConnected = "connected"
	CmdExited    = "exited"
)

// Field names used on the wire.
const (
	FieldCmd    = "cmd"
	FieldPath   = "path"
	FieldGdbCmd = "gdbCmd"
	FieldGdbRes = "gdbRes"
	FieldGdbErr = "gdbErr"
)

// Stream identifies one of the debugger's output streams.
type Stream string

const (
	StreamPrimary    Stream = "stdout"
	StreamDiagnostic Stream = "stderr"
)

// Server → Client messages.

// Connected is sent once the debugger for a new connection has been started.
type Connected struct {
	Cmd string `json:"cmd"`
}

// NewConnected returns the connection acknowledgement.
func NewConnected() Connected {
	return Connected{Cmd: CmdConnected}
}

// DirResult answers a cwd, ls or watch query.
type DirResult struct {
	Cmd       QueryKind        `json:"cmd"`
	Path      string           `json:"path"`
	Directory []DirectoryEntry `json:"directory"`
	Error     string           `json:"error,omitempty"`
}

// ProcessOutput is one chunk read from a debugger output stream. It encodes
// as {"gdbRes": data} for stdout and {"gdbErr": data} for stderr.
type ProcessOutput struct {
	Stream Stream
	Data   string
}

// MarshalJSON implements json.Marshaler.
func (p ProcessOutput) MarshalJSON() ([]byte, error) {
	key := FieldGdbRes
	if p.Stream == StreamDiagnostic {
		key = FieldGdbErr
	}
	return json.Marshal(map[string]string{key: p.Data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ProcessOutput) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if d, ok := m[FieldGdbErr]; ok {
		*p = ProcessOutput{Stream: StreamDiagnostic, Data: d}
		return nil
	}
	if d, ok := m[FieldGdbRes]; ok {
		*p = ProcessOutput{Stream: StreamPrimary, Data: d}
		return nil
	}
	return errors.New("process output: missing " + FieldGdbRes + " or " + FieldGdbErr)
}

// Exited reports that the debugger process went away.
type Exited struct {
	Cmd      string `json:"cmd"`
	ExitCode int    `json:"exitCode"`
}

// NewExited returns an exit notification.
func NewExited(code int) Exited {
	return Exited{Cmd: CmdExited, ExitCode: code}
}

// DirectoryEntry describes one entry of a listed directory. The stat fields
// after DateMod mirror the platform's stat call and are always present;
// where a platform lacks one it reads zero. The birth time is only sent when
// the filesystem records it.
type DirectoryEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	IsDir   bool   `json:"isDir"`
	DateMod string `json:"datemod"`

	Size    int64  `json:"size"`
	Mode    uint32 `json:"mode"`
	MtimeMs int64  `json:"mtimeMs"`
	Mtime   string `json:"mtime"`

	Dev     uint64 `json:"dev"`
	Ino     uint64 `json:"ino"`
	Nlink   uint64 `json:"nlink"`
	UID     uint32 `json:"uid"`
	GID     uint32 `json:"gid"`
	Rdev    uint64 `json:"rdev"`
	Blksize int64  `json:"blksize"`
	Blocks  int64  `json:"blocks"`
	AtimeMs int64  `json:"atimeMs"`
	CtimeMs int64  `json:"ctimeMs"`
	Atime   string `json:"atime"`
	Ctime   string `json:"ctime"`

	BirthtimeMs int64  `json:"birthtimeMs,omitempty"`
	Birthtime   string `json:"birthtime,omitempty"`
}
