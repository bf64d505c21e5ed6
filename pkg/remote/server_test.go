package remote

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/command"
)

type recordingObserver struct {
	mu   sync.Mutex
	reqs []Request
}

func (o *recordingObserver) ObserveRequest(r Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, r)
}

func newTestServer(capacity int) (*Server, *command.Queue) {
	q := command.NewQueue(capacity)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	return NewServer(q, cfg, log.Discard()), q
}

// roundTrip sends raw over a pipe to Handle and returns the reply bytes.
func roundTrip(t *testing.T, s *Server, raw string) (Request, []byte) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan Request, 1)
	go func() { done <- s.Handle(context.Background(), server) }()

	if raw != "" {
		if _, err := client.Write([]byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	reply, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	client.Close()
	return <-done, reply
}

func TestHandle_QueuesCommand(t *testing.T) {
	tests := []struct {
		path string
		want command.Command
	}{
		{"/?up", command.Forward},
		{"/?down", command.Reverse},
		{"/?left", command.TurnLeft},
		{"/?right", command.TurnRight},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s, q := newTestServer(command.DefaultCapacity)
			req, reply := roundTrip(t, s, "GET "+tt.path+" HTTP/1.1\r\nHost: rover\r\n\r\n")

			if !req.Matched || req.Command != tt.want || req.ID == "" {
				t.Errorf("unexpected request %+v", req)
			}
			if q.Len() != 1 {
				t.Fatalf("queue length = %d, want 1", q.Len())
			}
			env, _ := q.Receive(context.Background())
			if env.Command != tt.want || env.ID != req.ID {
				t.Errorf("queued %v/%s, want %v/%s", env.Command, env.ID, tt.want, req.ID)
			}
			if !bytes.Equal(reply, Response()) {
				t.Error("reply is not the fixed response")
			}
		})
	}
}

func TestHandle_UnknownPathStillReplies(t *testing.T) {
	s, q := newTestServer(command.DefaultCapacity)
	req, reply := roundTrip(t, s, "GET /?favicon.ico HTTP/1.1\r\n\r\n")

	if req.Matched {
		t.Errorf("favicon must not match a command: %+v", req)
	}
	if q.Len() != 0 {
		t.Errorf("nothing should be queued, Len = %d", q.Len())
	}
	if !bytes.Equal(reply, Response()) {
		t.Error("fixed response must be returned for unmatched requests")
	}
}

func TestHandle_SilentPeerTimesOutAndReplies(t *testing.T) {
	s, q := newTestServer(command.DefaultCapacity)
	req, reply := roundTrip(t, s, "")

	if req.Matched || q.Len() != 0 {
		t.Errorf("silent peer queued a command: %+v", req)
	}
	if !bytes.Equal(reply, Response()) {
		t.Error("silent peer should still get the page")
	}
}

func TestHandle_ReadsOnlyOneBuffer(t *testing.T) {
	s, q := newTestServer(command.DefaultCapacity)
	s.cfg.BufferSize = 32

	// The marker sits beyond the first 32 bytes and must not be seen.
	raw := "GET /" + strings.Repeat("x", 40) + " /?up HTTP/1.1\r\n\r\n"
	client, server := net.Pipe()
	done := make(chan Request, 1)
	go func() { done <- s.Handle(context.Background(), server) }()

	go client.Write([]byte(raw))
	io.ReadAll(client)
	client.Close()

	if req := <-done; req.Matched || q.Len() != 0 {
		t.Errorf("marker beyond the buffer was read: %+v", req)
	}
}

func TestHandle_BackpressureBlocksUntilSpace(t *testing.T) {
	s, q := newTestServer(1)
	q.Submit(context.Background(), command.Reverse)

	client, server := net.Pipe()
	done := make(chan Request, 1)
	go func() { done <- s.Handle(context.Background(), server) }()
	client.Write([]byte("GET /?up HTTP/1.1\r\n\r\n"))

	select {
	case <-done:
		t.Fatal("handler returned while the queue was full")
	case <-time.After(30 * time.Millisecond):
	}
	if q.Len() > q.Cap() {
		t.Fatalf("queue over capacity")
	}

	first, _ := q.Receive(context.Background())
	if first.Command != command.Reverse {
		t.Errorf("first = %v, want reverse", first.Command)
	}

	reply, _ := io.ReadAll(client)
	client.Close()
	req := <-done
	if !req.Matched || req.Err != nil {
		t.Errorf("blocked command was not queued: %+v", req)
	}
	next, _ := q.Receive(context.Background())
	if next.Command != command.Forward {
		t.Errorf("second = %v, want forward", next.Command)
	}
	if !bytes.Equal(reply, Response()) {
		t.Error("reply missing after backpressure")
	}
}

func TestServe_SequentialConnectionsOverTCP(t *testing.T) {
	s, q := newTestServer(command.DefaultCapacity)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	for _, dir := range []string{"left", "up", "nothing", "right"} {
		resp, err := http.Get("http://" + ln.Addr().String() + "/?" + dir)
		if err != nil {
			t.Fatalf("GET /?%s: %v", dir, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<button") {
			t.Errorf("GET /?%s: status %d", dir, resp.StatusCode)
		}
	}

	want := []command.Command{command.TurnLeft, command.Forward, command.TurnRight}
	if q.Len() != len(want) {
		t.Fatalf("queued %d commands, want %d", q.Len(), len(want))
	}
	for _, w := range want {
		env, _ := q.Receive(ctx)
		if env.Command != w {
			t.Errorf("got %v, want %v", env.Command, w)
		}
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.reqs) != 4 {
		t.Errorf("observer saw %d requests, want 4", len(obs.reqs))
	}
}

func TestResponse_IsCompleteHTTP(t *testing.T) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(Response())), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "text/html" || !resp.Close {
		t.Errorf("unexpected headers %v", resp.Header)
	}
	for _, dir := range []string{"up", "down", "left", "right"} {
		if !strings.Contains(string(body), `s("`+dir+`")`) {
			t.Errorf("page lacks the %s button", dir)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.BufferSize = 4
	if cfg.Validate() == nil {
		t.Error("tiny buffer must be rejected")
	}
}
