package shmstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/shmstore/internal/arena"
	"github.com/ehrlich-b/shmstore/internal/config"
	"github.com/ehrlich-b/shmstore/internal/conn"
	"github.com/ehrlich-b/shmstore/internal/constants"
	"github.com/ehrlich-b/shmstore/internal/dispatch"
	"github.com/ehrlich-b/shmstore/internal/evloop"
	"github.com/ehrlich-b/shmstore/internal/types"
	"github.com/ehrlich-b/shmstore/internal/wire"
)

// Config is the daemon's startup configuration; see internal/config.
type Config = config.Config

// Server is the running store daemon: one listening AF_UNIX socket,
// one epoll reactor, one dispatch.Store, all driven from the single
// goroutine that calls Serve — mirroring ublk.Device's shape (a handle
// owning a kernel resource plus its worker loops) but for a local
// object store instead of a block device.
type Server struct {
	cfg   config.Config
	arena *arena.Arena
	store *dispatch.Store
	loop  *evloop.Loop
	ln    *conn.Listener

	metrics       *Metrics
	metricsServer *MetricsServer

	clientFDs map[int]struct{}
	startTime time.Time

	fatalErr error
	mu       sync.Mutex
	closed   bool
}

// NewServer binds cfg.SocketPath and wires the arena, dispatcher, and
// event loop together, but does not start serving — call Serve.
func NewServer(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, WrapError("NewServer", err)
	}

	segSize := cfg.ArenaSegmentSize
	if segSize <= 0 {
		segSize = constants.DefaultArenaSegmentSize
	}
	a := arena.New(segSize, cfg.Logger)

	metrics := NewMetrics()
	observer := NewMetricsObserver(metrics)
	store := dispatch.New(a, observer, cfg.Logger)

	loop, err := evloop.New(cfg.Logger)
	if err != nil {
		a.Close()
		return nil, WrapError("NewServer", err)
	}

	ln, err := conn.Listen(cfg.SocketPath)
	if err != nil {
		loop.Close()
		a.Close()
		return nil, WrapError("NewServer", err)
	}
	if err := unix.SetNonblock(ln.FD(), true); err != nil {
		ln.Close()
		loop.Close()
		a.Close()
		return nil, WrapError("NewServer", err)
	}

	s := &Server{
		cfg:       cfg,
		arena:     a,
		store:     store,
		loop:      loop,
		ln:        ln,
		metrics:   metrics,
		clientFDs: make(map[int]struct{}),
		startTime: time.Now(),
	}

	if cfg.MetricsAddr != "" {
		ms, err := NewMetricsServer(cfg.MetricsAddr, metrics)
		if err != nil {
			ln.Close()
			loop.Close()
			a.Close()
			return nil, WrapError("NewServer", err)
		}
		s.metricsServer = ms
	}

	if err := loop.AddFD(ln.FD(), evloop.Readable, s.onAcceptable); err != nil {
		s.Close()
		return nil, WrapError("NewServer", err)
	}
	return s, nil
}

// Serve runs the reactor until ctx is cancelled or a fatal condition
// (spec.md §7) is hit on the command path, in which case it returns an
// error a caller can errors.As against *dispatch.FatalError to decide a
// non-zero exit code, matching the teacher's cmd/ublk-mem/main.go habit
// of os.Exit(1) on an unrecoverable condition.
func (s *Server) Serve(ctx context.Context) error {
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.Serve(); err != nil {
				s.logf("metrics server stopped: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.loop.RunOnce(1000); err != nil {
			return WrapError("Serve", err)
		}
		if s.fatalErr != nil {
			return s.fatalErr
		}
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Errorf(format, args...)
	}
}

func (s *Server) onAcceptable(fd int, ready evloop.Mask) {
	cfd, err := s.ln.Accept()
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.logf("accept: %v", err)
		return
	}
	if err := unix.SetNonblock(cfd, true); err != nil {
		unix.Close(cfd)
		return
	}
	if err := s.loop.AddFD(cfd, evloop.Readable, s.onClientReadable); err != nil {
		s.logf("register client fd=%d: %v", cfd, err)
		unix.Close(cfd)
		return
	}
	s.clientFDs[cfd] = struct{}{}
}

func (s *Server) onClientReadable(fd int, ready evloop.Mask) {
	msgType, payload, passedFD, err := conn.ReadFrameAny(fd)
	if err != nil {
		s.disconnectClient(fd)
		return
	}
	if err := s.dispatchMessage(fd, msgType, payload, passedFD); err != nil {
		s.fatalErr = err
	}
}

func (s *Server) dispatchMessage(fd int, msgType int64, payload []byte, passedFD int) error {
	switch msgType {
	case constants.MsgCreate:
		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			return &dispatch.FatalError{Op: "CREATE", Err: err}
		}
		return s.store.HandleCreate(fd, req, serverSender{})
	case constants.MsgGet:
		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			return &dispatch.FatalError{Op: "GET", Err: err}
		}
		return s.store.HandleGet(fd, req, serverSender{})
	case constants.MsgContains:
		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			return &dispatch.FatalError{Op: "CONTAINS", Err: err}
		}
		return s.store.HandleContains(fd, req, serverSender{})
	case constants.MsgSeal:
		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			return &dispatch.FatalError{Op: "SEAL", Err: err}
		}
		return s.store.HandleSeal(req, serverSender{}, &serverDrainer{s: s})
	case constants.MsgDelete:
		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			return &dispatch.FatalError{Op: "DELETE", Err: err}
		}
		return s.store.HandleDelete(req)
	case constants.MsgSubscribe:
		if passedFD < 0 {
			return &dispatch.FatalError{Op: "SUBSCRIBE", Err: fmt.Errorf("no ancillary notification fd received")}
		}
		if err := unix.SetNonblock(passedFD, true); err != nil {
			return &dispatch.FatalError{Op: "SUBSCRIBE", Err: err}
		}
		if err := s.store.HandleSubscribe(passedFD); err != nil {
			unix.Close(passedFD)
			return err
		}
		if err := s.loop.AddFD(passedFD, evloop.Writable, s.onSubscriberWritable); err != nil {
			return &dispatch.FatalError{Op: "SUBSCRIBE", Err: err}
		}
		return nil
	case constants.MsgDisconnect:
		s.disconnectClient(fd)
		return nil
	default:
		return &dispatch.FatalError{Op: "dispatch", Err: fmt.Errorf("unknown message type %d", msgType)}
	}
}

func (s *Server) disconnectClient(fd int) {
	s.store.HandleDisconnect(fd)
	s.loop.RemoveFD(fd)
	delete(s.clientFDs, fd)
	unix.Close(fd)
}

// onSubscriberWritable drains fd's pending notification queue whenever
// epoll reports write-readiness (or the peer hung up, which epoll
// always reports regardless of the requested mask).
func (s *Server) onSubscriberWritable(fd int, ready evloop.Mask) {
	if ready&evloop.Mask(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.disconnectSubscriber(fd)
		return
	}
	if _, err := s.store.DrainSubscriber(fd, serverNotifier{}); err != nil {
		s.disconnectSubscriber(fd)
		return
	}
	if s.store.Subs().Pending(fd) == 0 {
		// Nothing left to send; drop write-readiness interest so a
		// caught-up subscriber doesn't spin the loop on a
		// level-triggered EPOLLOUT that fires every iteration.
		_ = s.loop.ModifyFD(fd, 0)
	}
}

func (s *Server) disconnectSubscriber(fd int) {
	s.store.HandleDisconnect(fd)
	s.loop.RemoveFD(fd)
	unix.Close(fd)
}

// serverDrainer implements dispatch.NotifyDrainer: right after a SEAL
// enqueues an identifier to every subscriber queue, drain each queue
// once opportunistically (until it is empty or a send would block) and
// re-arm write-readiness interest
// for whichever queues still have a pending prefix (spec.md §4.D).
type serverDrainer struct{ s *Server }

func (d *serverDrainer) DrainAll(id types.ObjectID) {
	for _, fd := range d.s.store.Subs().FDs() {
		if _, err := d.s.store.DrainSubscriber(fd, serverNotifier{}); err != nil {
			d.s.disconnectSubscriber(fd)
			continue
		}
		if d.s.store.Subs().Pending(fd) > 0 {
			_ = d.s.loop.ModifyFD(fd, evloop.Writable)
		}
	}
}

// serverSender implements dispatch.ReplySender over internal/conn's
// framing helpers. It carries no state, so a zero value is always
// valid.
type serverSender struct{}

func (serverSender) Reply(fd int, msgType int64, payload []byte) error {
	return conn.WriteFrame(fd, msgType, payload)
}

func (serverSender) ReplyWithFD(fd int, msgType int64, payload []byte, passFD int) error {
	return conn.WriteFrameWithFD(fd, msgType, payload, passFD)
}

// serverNotifier implements subs.Sender over internal/conn's
// notification write helper.
type serverNotifier struct{}

func (serverNotifier) TrySend(fd int, id types.ObjectID) (bool, error) {
	return conn.WriteNotification(fd, wire.MarshalNotification(id))
}

// Status is a point-in-time operability snapshot, mirroring
// ublk.Device.Info()/DeviceInfo — not named in spec.md, and not
// excluded by its Non-goals.
type Status struct {
	SocketPath  string
	OpenCount   int
	SealedCount int
	Subscribers int
	Uptime      time.Duration
}

// Info reports the server's current status.
func (s *Server) Info() Status {
	return Status{
		SocketPath:  s.cfg.SocketPath,
		OpenCount:   s.store.Objects().OpenCount(),
		SealedCount: s.store.Objects().SealedCount(),
		Subscribers: s.store.Subs().Count(),
		Uptime:      time.Since(s.startTime),
	}
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Close tears down every resource the server owns: client and
// subscriber fds, the listener, the epoll instance, the arena's
// segments, and (if running) the metrics HTTP server. Safe to call
// more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for fd := range s.clientFDs {
		unix.Close(fd)
	}
	for _, fd := range s.store.Subs().FDs() {
		unix.Close(fd)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(s.loop.Close())
	record(s.ln.Close())
	record(s.arena.Close())
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		record(s.metricsServer.Shutdown(ctx))
	}
	return firstErr
}

// Serve is a convenience entry point for cmd/shmstore-server: construct
// a Server from cfg, run it until ctx is done or a fatal error occurs,
// then close it.
func Serve(ctx context.Context, cfg config.Config) error {
	s, err := NewServer(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Serve(ctx)
}
