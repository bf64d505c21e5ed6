// Package remote is the rover's command channel: a single TCP listener that
// takes one short request per connection, extracts a motion command from it
// and answers with a fixed control page.
//
// It is not an HTTP server. The request is read once, scanned for a
// direction marker and otherwise ignored; the reply is always the same bytes.
// Connections are served strictly one at a time.
package remote

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/command"
)

//go:embed page.html
var page string

var response = buildResponse(page)

func buildResponse(body string) []byte {
	head := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n"
	return []byte(head + body)
}

// Response returns a copy of the fixed reply sent on every connection.
func Response() []byte {
	out := make([]byte, len(response))
	copy(out, response)
	return out
}

// lingerTimeout bounds the drain after the reply so unread request bytes do
// not turn the close into a reset before the peer reads the page.
const lingerTimeout = 100 * time.Millisecond

// Config holds the command channel settings.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr"`

	// BufferSize is the most request bytes read per connection.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// ReadTimeout bounds the single read.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout bounds writing the reply.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns the reference vehicle's channel settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		BufferSize:   1024,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("remote: addr required")
	case c.BufferSize < 16:
		return errors.New("remote: buffer_size must be >= 16")
	case c.ReadTimeout <= 0:
		return errors.New("remote: read_timeout must be > 0")
	case c.WriteTimeout <= 0:
		return errors.New("remote: write_timeout must be > 0")
	}
	return nil
}

// Request describes one handled connection.
type Request struct {
	At      time.Time
	Peer    string
	Command command.Command
	Matched bool
	ID      string // envelope id when a command was queued
	Err     error
}

// Observer receives every handled request.
type Observer interface {
	ObserveRequest(Request)
}

// Server is the command channel. It is the queue's only producer.
type Server struct {
	queue *command.Queue
	cfg   Config
	log   *slog.Logger

	mu  sync.Mutex
	obs Observer
}

// NewServer returns a server feeding queue.
func NewServer(queue *command.Queue, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{queue: queue, cfg: cfg, log: logger}
}

// SetObserver registers o for request results.
func (s *Server) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = o
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln one at a time until ctx is done. ln is
// closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	s.log.Info("command channel listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		s.Handle(ctx, conn)
	}
}

// Handle serves one connection: a single bounded read, command extraction,
// a blocking enqueue on a match, then the fixed reply and close.
func (s *Server) Handle(ctx context.Context, conn net.Conn) Request {
	defer conn.Close()

	req := Request{At: time.Now(), Peer: peerOf(conn)}

	buf := make([]byte, s.cfg.BufferSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	n, rerr := conn.Read(buf)
	if n == 0 && rerr != nil {
		s.log.Debug("empty request", "peer", req.Peer, "error", rerr)
	}

	if n > 0 {
		req.Command, req.Matched = command.Parse(buf[:n])
	}
	if req.Matched {
		env := command.NewEnvelope(req.Command)
		if err := s.queue.Send(ctx, env); err != nil {
			req.Err = err
			s.log.Warn("command not queued", "command", req.Command, "error", err)
		} else {
			req.ID = env.ID
			s.log.Debug("command queued", "command", req.Command, "id", env.ID, "depth", s.queue.Len())
		}
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write(response); err != nil {
		s.log.Debug("reply failed", "peer", req.Peer, "error", err)
		if req.Err == nil {
			req.Err = err
		}
	} else {
		linger(conn)
	}

	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if obs != nil {
		obs.ObserveRequest(req)
	}
	return req
}

// linger half-closes a TCP connection and drains what the peer still sends.
func linger(conn net.Conn) {
	hc, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := hc.CloseWrite(); err != nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, 64<<10))
}

func peerOf(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
