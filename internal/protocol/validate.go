package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Inbound is a classified client message. It is one of DirQuery,
// DebugCommand, Passthrough or Unwatch.
type Inbound interface {
	inbound()
}

// DirQuery asks for a directory listing. Path is empty for QueryCwd.
type DirQuery struct {
	Kind QueryKind
	Path string
}

// DebugCommand is one line of debugger input without its terminator.
type DebugCommand struct {
	Text string
}

// Line returns the command as written to the debugger's stdin.
func (d DebugCommand) Line() []byte {
	return []byte(d.Text + "\n")
}

// Passthrough is an opaque payload written to the debugger unchanged.
type Passthrough struct {
	Data []byte
}

// Unwatch stops the client's directory watch.
type Unwatch struct{}

func (DirQuery) inbound()     {}
func (DebugCommand) inbound() {}
func (Passthrough) inbound()  {}
func (Unwatch) inbound()      {}

// ParseError reports a structured payload that could not be decoded into a
// known message shape.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnknownCommandError reports a well-formed object that names no known
// command. Cmd is set when the object carried an unrecognized "cmd" value.
type UnknownCommandError struct {
	Cmd  string
	Keys []string
}

func (e *UnknownCommandError) Error() string {
	if e.Cmd != "" {
		return fmt.Sprintf("unknown command: %s", e.Cmd)
	}
	return fmt.Sprintf("unknown command: object with keys [%s]", strings.Join(e.Keys, ", "))
}

// Classify turns one client frame into an Inbound message. Binary frames are
// debugger passthrough; text frames must hold a JSON object.
func Classify(raw []byte, binary bool) (Inbound, error) {
	if binary {
		data := make([]byte, len(raw))
		copy(data, raw)
		return Passthrough{Data: data}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Reason: "payload is not a JSON object"}
	}

	if rawCmd, ok := fields[FieldCmd]; ok {
		var cmd string
		if err := json.Unmarshal(rawCmd, &cmd); err != nil {
			return nil, &ParseError{Reason: "'cmd' must be a string", Err: err}
		}
		return classifyCmd(cmd, fields)
	}

	if rawGdb, ok := fields[FieldGdbCmd]; ok {
		var text string
		if err := json.Unmarshal(rawGdb, &text); err != nil {
			return nil, &ParseError{Reason: "'gdbCmd' must be a string", Err: err}
		}
		return DebugCommand{Text: text}, nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return nil, &UnknownCommandError{Keys: keys}
}

func classifyCmd(cmd string, fields map[string]json.RawMessage) (Inbound, error) {
	switch cmd {
	case CmdCwd:
		return DirQuery{Kind: QueryCwd}, nil
	case CmdLs, CmdWatch:
		path, err := requiredPath(cmd, fields)
		if err != nil {
			return nil, err
		}
		return DirQuery{Kind: QueryKind(cmd), Path: path}, nil
	case CmdUnwatch:
		return Unwatch{}, nil
	default:
		return nil, &UnknownCommandError{Cmd: cmd}
	}
}

func requiredPath(cmd string, fields map[string]json.RawMessage) (string, error) {
	rawPath, ok := fields[FieldPath]
	if !ok {
		return "", &ParseError{Reason: fmt.Sprintf("missing required field 'path' for %s", cmd)}
	}
	var path string
	if err := json.Unmarshal(rawPath, &path); err != nil {
		return "", &ParseError{Reason: "'path' must be a string", Err: err}
	}
	if path == "" {
		return "", &ParseError{Reason: fmt.Sprintf("empty 'path' for %s", cmd)}
	}
	return path, nil
}
