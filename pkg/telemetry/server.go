package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/hub"
)

// Config holds the dashboard API settings.
type Config struct {
	// Enabled starts the API alongside the rover tasks.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the listen address. It must differ from the command channel's.
	Addr string `yaml:"addr" json:"addr"`

	// Backlog is the number of events kept for replay.
	Backlog int `yaml:"backlog" json:"backlog"`
}

// DefaultConfig returns a disabled API on :8081.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    ":8081",
		Backlog: DefaultBacklog,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("telemetry: addr required when enabled")
	}
	if c.Backlog < 0 {
		return errors.New("telemetry: backlog must not be negative")
	}
	return nil
}

// Server serves the recorder over HTTP and websocket.
type Server struct {
	app *fiber.App
	rec *Recorder
	hub *hub.Hub
	cfg Config
	log *slog.Logger
}

// NewServer builds the API around rec. rec must have been created with a
// hub for /ws/events to stream anything.
func NewServer(rec *Recorder, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{rec: rec, hub: rec.Hub(), cfg: cfg, log: logger}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Telemetry",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := s.app.Shutdown(); err != nil {
			s.log.Warn("telemetry shutdown", "error", err)
		}
		ln.Close()
	}()

	s.log.Info("telemetry listening", "addr", ln.Addr().String(), "boot_id", s.rec.BootID())
	err := s.app.Listener(ln)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.rec.Status())
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	since := c.QueryInt("since", 0)
	if since < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "since must not be negative")
	}
	return c.JSON(s.rec.Events(uint64(since)))
}

// handleEventsWS replays the backlog after ?since= and then streams new
// events. The client joins the hub only after the bulk replay, so a long
// backlog cannot fill its send buffer; a second short replay covers events
// recorded meanwhile. An event may arrive twice; clients dedupe on seq.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	if s.hub == nil {
		return
	}

	var since uint64
	if v := c.Query("since"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			since = n
		}
	}
	last, err := s.replay(c, since)
	if err != nil {
		s.log.Debug("backlog write failed", "error", err)
		return
	}

	client := hub.NewClient(s.hub, c)
	if client == nil {
		return
	}
	if _, err := s.replay(c, last); err != nil {
		s.log.Debug("backlog write failed", "error", err)
	}
	client.Run()
}

// replay writes every kept event after since and returns the last sequence
// number written, or since if there was none.
func (s *Server) replay(c *websocket.Conn, since uint64) (uint64, error) {
	last := since
	for _, ev := range s.rec.Events(since) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return last, err
		}
		last = ev.Seq
	}
	return last, nil
}
