// Package tcpserver accepts raw TCP connections and feeds them to a
// connection handler. The streaming server runs two of these: one for the
// SlimProto control channel and one for the HTTP audio channel.
package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	"slimcast/pkg/optimize"
	"slimcast/pkg/tracing"
)

// Config describes one listener.
type Config struct {
	// Name tags log lines and trace spans, e.g. "slimproto" or "stream".
	Name    string
	Address string
	// AcceptRate/AcceptBurst rate-limit the accept loop; a rate <= 0
	// disables limiting.
	AcceptRate  float64
	AcceptBurst int
	// ReadBufferSize is the per-read buffer handed to the handler.
	ReadBufferSize int
	WriteTimeout   time.Duration
}

// Server owns one listener and the read loops of its connections.
type Server struct {
	cfg     Config
	handler ports.ConnHandler
	log     *zap.SugaredLogger

	pool    *optimize.BytePool
	limiter *rate.Limiter

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[domain.ConnID]*tcpConnection
}

func NewServer(cfg Config, handler ports.ConnHandler, log *zap.SugaredLogger) *Server {
	limit := rate.Inf
	if cfg.AcceptRate > 0 {
		limit = rate.Limit(cfg.AcceptRate)
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log.With("listener", cfg.Name),
		pool:    optimize.NewBytePool(cfg.ReadBufferSize),
		limiter: rate.NewLimiter(limit, burst),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[domain.ConnID]*tcpConnection),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Infow("listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address; useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown closes the listener and every connection, then waits for the
// read loops to drain or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}

		netConn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.log.Warnw("accept failed", "error", err)
			continue
		}

		conn := &tcpConnection{
			id:           domain.ConnID(uuid.NewString()),
			conn:         netConn,
			writeTimeout: s.cfg.WriteTimeout,
		}
		s.mu.Lock()
		s.conns[conn.id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve runs one connection's read loop. The read buffer is reused between
// reads, so the handler must copy what it keeps.
func (s *Server) serve(conn *tcpConnection) {
	defer s.wg.Done()

	_, span := tracing.TraceConnection(s.ctx, s.cfg.Name, string(conn.id), conn.RemoteAddr())
	defer span.End()

	s.handler.OnOpen(conn)

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	for {
		n, err := conn.conn.Read(buf)
		if n > 0 {
			s.handler.OnData(conn, buf[:n])
		}
		if err != nil {
			break
		}
	}

	conn.Stop()
	s.mu.Lock()
	delete(s.conns, conn.id)
	s.mu.Unlock()

	s.handler.OnClose(conn)
	s.log.Debugw("connection finished", "conn_id", conn.id, "remote", conn.RemoteAddr())
}

// tcpConnection adapts net.Conn to the connection contract. The uuid token
// keys the session maps so identity never depends on the transport's
// address reuse.
type tcpConnection struct {
	id           domain.ConnID
	conn         net.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *tcpConnection) ID() domain.ConnID { return c.id }

func (c *tcpConnection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConnection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, domain.ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.Write(p)
}

func (c *tcpConnection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
