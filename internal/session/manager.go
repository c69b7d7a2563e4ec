package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/protocol"
)

// ErrNoSession is returned when no debugger session is active.
var ErrNoSession = errors.New("no active debugger session")

const (
	defaultRecentOutput = 200
	reapTimeout         = 2 * time.Second

	// quitTimeout bounds how long a replaced debugger may take to accept the
	// quit directive before the new one is spawned anyway.
	quitTimeout = 250 * time.Millisecond
)

// Options tune how sessions are released.
type Options struct {
	// QuitCommand is written, newline-terminated, to a debugger being replaced.
	QuitCommand string
	// KillGrace is how long a released debugger may take to exit before it is
	// killed. Zero leaves it alone after the quit command.
	KillGrace time.Duration
	// KillOnDisconnect releases the session as soon as its client leaves.
	KillOnDisconnect bool
	// RecentOutput is how many output chunks are kept for status reporting.
	RecentOutput int
}

// Manager owns the single active debugger session. Connecting a client
// replaces whatever session was active before.
type Manager struct {
	connectMu sync.Mutex // serializes Connect so replacements happen in order

	mu     sync.Mutex
	active *Session
	live   map[string]*Session // sessions whose process has not been reaped
	start  Starter
	opts   Options
	log    *logger.Logger

	supervisors sync.WaitGroup
}

// NewManager creates a session manager that launches debuggers with start.
func NewManager(start Starter, opts Options, log *logger.Logger) *Manager {
	if opts.QuitCommand == "" {
		opts.QuitCommand = "q"
	}
	if opts.RecentOutput == 0 {
		opts.RecentOutput = defaultRecentOutput
	}
	return &Manager{
		live:  make(map[string]*Session),
		start: start,
		opts:  opts,
		log:   log,
	}
}

// Connect binds ch as the active client. A still-running debugger from an
// earlier connection is told to quit first; the new one is spawned without
// waiting for the old one to exit. ch receives a connected message before
// any debugger output.
func (m *Manager) Connect(ch Channel) (*Session, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if prev := m.detachActive(); prev != nil {
		m.release(prev, "replaced by new connection")
	}

	proc, err := m.start()
	if err != nil {
		return nil, fmt.Errorf("start debugger: %w", err)
	}

	sess := newSession(ch, proc, m.opts.RecentOutput)
	m.mu.Lock()
	m.active = sess
	m.live[sess.ID] = sess
	m.mu.Unlock()

	m.log.WithSessionID(sess.ID).Info("debugger started",
		zap.String("client_id", ch.ID()),
		zap.Int("pid", proc.PID()))

	m.SendOutbound(ch, protocol.NewConnected())
	m.supervise(sess)

	return sess, nil
}

// Disconnect unbinds ch if it is the active client. The debugger keeps
// running until the next connection unless KillOnDisconnect is set.
func (m *Manager) Disconnect(ch Channel) {
	m.mu.Lock()
	sess := m.active
	if sess == nil || sess.channel.ID() != ch.ID() {
		m.mu.Unlock()
		return
	}
	sess.detached = true
	if !m.opts.KillOnDisconnect {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.mu.Unlock()

	m.release(sess, "client disconnected")
}

// WriteInput writes data to the active debugger's stdin.
func (m *Manager) WriteInput(data []byte) error {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if err := sess.proc.Write(data); err != nil {
		return fmt.Errorf("write to debugger %s: %w", sess.ID, err)
	}
	return nil
}

// SendOutbound serializes msg and sends it on ch. A closed channel is not an
// error: output may race with the client going away.
func (m *Manager) SendOutbound(ch Channel, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("failed to encode outbound message", zap.Error(err))
		return
	}
	if err := ch.Send(data); err != nil && !errors.Is(err, ErrChannelClosed) {
		m.log.Warn("failed to send outbound message", zap.String("client_id", ch.ID()), zap.Error(err))
	}
}

// Active returns a snapshot of the active session.
func (m *Manager) Active() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return Info{}, false
	}
	return m.active.info(), true
}

// Terminate releases the active session.
func (m *Manager) Terminate() error {
	sess := m.detachActive()
	if sess == nil {
		return ErrNoSession
	}
	m.release(sess, "terminated on request")
	return nil
}

// detachActive clears the active session and returns it.
func (m *Manager) detachActive() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.active
	m.active = nil
	return sess
}

// Shutdown releases the active session and waits for every debugger to
// exit. Processes still alive when ctx is done are killed.
func (m *Manager) Shutdown(ctx context.Context) {
	if sess := m.detachActive(); sess != nil {
		m.release(sess, "server shutting down")
	}

	exited := make(chan struct{})
	go func() {
		m.supervisors.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		return
	case <-ctx.Done():
	}

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.live))
	for _, sess := range m.live {
		remaining = append(remaining, sess)
	}
	m.mu.Unlock()

	for _, sess := range remaining {
		m.log.WithSessionID(sess.ID).Warn("killing debugger after shutdown timeout", zap.Int("pid", sess.proc.PID()))
		if err := sess.proc.Kill(); err != nil {
			m.log.WithSessionID(sess.ID).Warn("failed to kill debugger", zap.Error(err))
		}
	}

	// A grandchild holding the pipes open can keep the forwarders blocked.
	select {
	case <-exited:
	case <-time.After(reapTimeout):
		m.log.Warn("debugger output still open after kill, giving up")
	}
}

// release arms the kill timer, when configured, and then asks a session's
// debugger to quit. It waits at most quitTimeout for the directive to be
// taken and never for the exit. Callers must not hold m.mu.
func (m *Manager) release(sess *Session, reason string) {
	log := m.log.WithSessionID(sess.ID)
	if sess.proc.Exited() {
		return
	}

	log.Info("releasing debugger", zap.String("reason", reason), zap.Int("pid", sess.proc.PID()))
	m.armKill(sess, log)

	if err := sess.proc.Quit(m.opts.QuitCommand, quitTimeout); err != nil {
		log.Warn("failed to send quit command", zap.Error(err))
	}
}

// armKill kills the session's debugger if it is still running after KillGrace.
func (m *Manager) armKill(sess *Session, log *logger.Logger) {
	if m.opts.KillGrace <= 0 {
		return
	}
	go func() {
		timer := time.NewTimer(m.opts.KillGrace)
		defer timer.Stop()
		select {
		case <-sess.proc.Done():
		case <-timer.C:
			log.Warn("debugger ignored quit command, killing", zap.Duration("grace", m.opts.KillGrace))
			if err := sess.proc.Kill(); err != nil {
				log.Warn("failed to kill debugger", zap.Error(err))
			}
		}
	}()
}

// supervise attaches the output forwarders and reaps the process once both
// streams are drained.
func (m *Manager) supervise(sess *Session) {
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		m.forwardStream(sess, sess.proc.stdout, protocol.StreamPrimary)
	}()
	go func() {
		defer streams.Done()
		m.forwardStream(sess, sess.proc.stderr, protocol.StreamDiagnostic)
	}()

	m.supervisors.Add(1)
	go func() {
		defer m.supervisors.Done()
		streams.Wait()
		m.onExit(sess, sess.proc.reap())
	}()
}

func (m *Manager) forwardStream(sess *Session, r io.Reader, stream protocol.Stream) {
	err := forward(r, stream, func(out protocol.ProcessOutput) {
		sess.recent.Write(out)
		m.SendOutbound(sess.channel, out)
	})
	if err != nil {
		m.log.WithSessionID(sess.ID).Warn("debugger output read error", zap.String("stream", string(stream)), zap.Error(err))
	}
}

func (m *Manager) onExit(sess *Session, code int) {
	m.log.WithSessionID(sess.ID).Info("debugger exited", zap.Int("exit_code", code))
	m.SendOutbound(sess.channel, protocol.NewExited(code))

	m.mu.Lock()
	delete(m.live, sess.ID)
	if m.active == sess {
		m.active = nil
	}
	m.mu.Unlock()
}
