package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"gdb-bridge/internal/protocol"
)

// ErrChannelClosed is returned by Channel.Send once the client is gone.
// The manager treats it as a normal outcome, not a failure.
var ErrChannelClosed = errors.New("channel closed")

// Channel is the outbound half of a client connection.
type Channel interface {
	ID() string
	Send(data []byte) error
}

// State represents the lifecycle state of a session's debugger.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Session pairs one client channel with one debugger process.
type Session struct {
	ID        string
	StartedAt time.Time

	channel  Channel
	proc     *Process
	recent   *RingBuffer
	detached bool // guarded by Manager.mu
}

// Info is a point-in-time view of a session, suitable for JSON.
type Info struct {
	ID           string                   `json:"id"`
	ClientID     string                   `json:"clientId"`
	Connected    bool                     `json:"connected"`
	PID          int                      `json:"pid"`
	State        State                    `json:"state"`
	StartedAt    time.Time                `json:"startedAt"`
	RecentOutput []protocol.ProcessOutput `json:"recentOutput"`
}

func newSession(ch Channel, proc *Process, recentCap int) *Session {
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		channel:   ch,
		proc:      proc,
		recent:    NewRingBuffer(recentCap),
	}
}

// Channel returns the client channel the session's output is sent to.
func (s *Session) Channel() Channel {
	return s.channel
}

// Process returns the session's debugger process.
func (s *Session) Process() *Process {
	return s.proc
}

func (s *Session) info() Info {
	state := StateRunning
	if s.proc.Exited() {
		state = StateExited
	}
	return Info{
		ID:           s.ID,
		ClientID:     s.channel.ID(),
		Connected:    !s.detached,
		PID:          s.proc.PID(),
		State:        state,
		StartedAt:    s.StartedAt,
		RecentOutput: s.recent.ReadAll(),
	}
}
