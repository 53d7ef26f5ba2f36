package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

// Handler builds the reply for a parsed request.
type Handler interface {
	Handle(req *request.Request) *response.Reply
}

// Expirer is run every SessionExpiry. Returning true shuts the server down.
type Expirer interface {
	ExpireSessions(now time.Time) (shutdown bool)
}

type Options struct {
	Logger    logging.Logger
	AccessLog *logging.AccessLog
	// Workers is stopped together with the server.
	Workers *WorkerPool
	Expirer Expirer
}

type Server struct {
	conf      *config.Config
	handler   Handler
	logger    logging.Logger
	accessLog *logging.AccessLog
	workers   *WorkerPool
	expirer   Expirer
	tlsConfig *tls.Config

	manager *ConnectionManager
	metrics *Metrics

	mu        sync.Mutex
	closed    bool
	listeners []net.Listener
	wg        sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
}

func New(conf *config.Config, handler Handler, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NullLogger{}
	}
	s := &Server{
		conf:      conf,
		handler:   handler,
		logger:    opts.Logger,
		accessLog: opts.AccessLog,
		workers:   opts.Workers,
		expirer:   opts.Expirer,
		metrics:   NewMetrics(),
		done:      make(chan struct{}),
	}
	s.manager = NewConnectionManager(s.metrics, conf.Threads*64)

	if conf.HTTPSAddr != "" {
		tc, err := conf.TLSConfig()
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tc
	}
	return s, nil
}

// Start opens the configured listeners and begins accepting.
func (s *Server) Start() error {
	if s.conf.HTTPAddr != "" {
		if err := s.listen(s.conf.HTTPAddr, false); err != nil {
			return err
		}
	}
	if s.conf.HTTPSAddr != "" {
		if err := s.listen(s.conf.HTTPSAddr, true); err != nil {
			s.Stop()
			return err
		}
	}

	if s.expirer != nil && s.conf.SessionExpiry > 0 {
		s.wg.Add(1)
		go s.expireSessions()
	}
	return nil
}

func (s *Server) listen(addr string, secure bool) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	scheme := "http"
	if secure {
		scheme = "https"
	}
	s.logger.Info("listening", logging.F("addr", l.Addr().String()), logging.F("scheme", scheme))

	s.wg.Add(1)
	go s.accept(l, secure)
	return nil
}

func (s *Server) accept(l net.Listener, secure bool) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", logging.F("error", err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		var t transport
		if secure {
			t = newTLSTransport(conn, s.tlsConfig)
		} else {
			t = newTCPTransport(conn)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.manager.Start(newConnection(s, t))
		s.mu.Unlock()
	}
}

func (s *Server) expireSessions() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.SessionExpiry)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if s.expirer.ExpireSessions(now) {
				s.logger.Info("shutdown requested by application")
				s.shutdown()
				return
			}
		}
	}
}

func (s *Server) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Addrs returns the addresses of the open listeners, HTTP first.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Done is closed when the server wants to shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop closes the listeners and every connection, then waits for the
// workers to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	s.mu.Unlock()

	s.shutdown()
	for _, l := range listeners {
		l.Close()
	}
	s.manager.StopAll()
	s.wg.Wait()
	if s.workers != nil {
		s.workers.Stop()
	}
	s.logger.Info("server stopped")
}

// Run serves until ctx is cancelled or the application asks to stop.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.Stop()
	return nil
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Server) logReply(rec logging.AccessRecord) {
	s.accessLog.Log(rec)
	s.metrics.RecordReply(rec)
}
