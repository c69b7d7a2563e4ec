package realtime

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"

	"gdb-bridge/internal/files"
	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/protocol"
	"gdb-bridge/internal/session"
)

// Router dispatches classified client messages. Directory queries are
// answered on the asking channel; debugger input always goes to the active
// session.
type Router struct {
	sessions     *session.Manager
	lister       *files.Lister
	watcher      *files.Watcher
	reportErrors bool
	getwd        func() (string, error)
	log          *logger.Logger

	listings sync.WaitGroup
}

// NewRouter creates a Router. When reportErrors is false, failed listings get
// no reply.
func NewRouter(sessions *session.Manager, lister *files.Lister, watcher *files.Watcher, reportErrors bool, log *logger.Logger) *Router {
	return &Router{
		sessions:     sessions,
		lister:       lister,
		watcher:      watcher,
		reportErrors: reportErrors,
		getwd:        os.Getwd,
		log:          log,
	}
}

// Dispatch handles one frame received on ch. Malformed and unknown messages
// are logged and dropped.
func (r *Router) Dispatch(ch session.Channel, raw []byte, binary bool) {
	log := r.log.WithClientID(ch.ID())

	msg, err := protocol.Classify(raw, binary)
	if err != nil {
		var unknown *protocol.UnknownCommandError
		if errors.As(err, &unknown) {
			log.Warn("unknown command", zap.Error(err))
			return
		}
		log.Warn("dropping malformed message", zap.Error(err), zap.Int("size", len(raw)))
		return
	}

	switch m := msg.(type) {
	case protocol.DirQuery:
		r.handleDirQuery(ch, m, log)
	case protocol.DebugCommand:
		log.Debug("cmd for gdb received", zap.String("cmd", m.Text))
		r.writeInput(m.Line(), log)
	case protocol.Passthrough:
		log.Debug("raw input for gdb received", zap.Int("size", len(m.Data)))
		r.writeInput(m.Data, log)
	case protocol.Unwatch:
		r.watcher.Unwatch(ch.ID())
	}
}

// Forget drops per-client state once ch is gone.
func (r *Router) Forget(ch session.Channel) {
	r.watcher.Unwatch(ch.ID())
}

// Wait blocks until in-flight query listings have replied. Re-listings from
// a watch are done by the time unwatch or Forget returns.
func (r *Router) Wait() {
	r.listings.Wait()
}

func (r *Router) writeInput(data []byte, log *logger.Logger) {
	if err := r.sessions.WriteInput(data); err != nil {
		log.Warn("failed to forward input to debugger", zap.Error(err))
	}
}

func (r *Router) handleDirQuery(ch session.Channel, q protocol.DirQuery, log *logger.Logger) {
	path := q.Path
	if q.Kind == protocol.QueryCwd {
		wd, err := r.getwd()
		if err != nil {
			log.Warn("failed to resolve working directory", zap.Error(err))
			r.replyError(ch, q.Kind, "", err)
			return
		}
		path = wd
	}

	if q.Kind == protocol.QueryWatch {
		err := r.watcher.Watch(ch.ID(), path, func(_, dir string) {
			r.listAndReply(ch, protocol.QueryWatch, dir)
		})
		if err != nil {
			log.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			r.replyError(ch, q.Kind, path, err)
			return
		}
	}

	r.listings.Add(1)
	go func() {
		defer r.listings.Done()
		r.listAndReply(ch, q.Kind, path)
	}()
}

func (r *Router) listAndReply(ch session.Channel, kind protocol.QueryKind, path string) {
	entries, err := r.lister.List(path)
	if err != nil {
		r.log.WithClientID(ch.ID()).Warn("directory listing failed", zap.String("path", path), zap.Error(err))
		r.replyError(ch, kind, path, err)
		return
	}
	r.sessions.SendOutbound(ch, protocol.DirResult{Cmd: kind, Path: path, Directory: entries})
}

func (r *Router) replyError(ch session.Channel, kind protocol.QueryKind, path string, err error) {
	if !r.reportErrors {
		return
	}
	r.sessions.SendOutbound(ch, protocol.DirResult{
		Cmd:       kind,
		Path:      path,
		Directory: []protocol.DirectoryEntry{},
		Error:     err.Error(),
	})
}
