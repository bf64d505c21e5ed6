// Package serialbridge drives the rover's pins through a microcontroller on
// a serial line. The firmware speaks a newline-delimited text protocol in
// which every request starts with a sequence number that the reply echoes:
//
//	<seq> PING                                  -> <seq> PONG
//	<seq> MODE <pin> OUT|IN                     -> <seq> OK
//	<seq> SET <pin> 0|1                         -> <seq> OK
//	<seq> SETN <pin>=0|1 ...                    -> <seq> OK
//	<seq> GET <pin>                             -> <seq> 0 | 1
//	<seq> ECHO <trig> <echo> <pulse> <timeout>  -> <seq> <width_us> | TIMEOUT
//
// Any request may be answered with "<seq> ERR <reason>". Durations are in
// microseconds. SETN switches all of its pins in one port write. ECHO raises
// trig for pulse, then times the next high pulse on echo with an edge
// interrupt; each edge wait is bounded by timeout.
//
// The firmware answers ECHO when the pulse ends and keeps serving other
// requests meanwhile, so several requests can be in flight. A reply whose
// number matches no waiting request (one that arrived after its requester
// gave up) is dropped.
package serialbridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

var (
	// ErrTimeout is returned when the firmware does not answer in time.
	ErrTimeout = errors.New("serialbridge: reply timeout")

	// ErrClosed is returned after the line has been closed or has failed.
	ErrClosed = errors.New("serialbridge: closed")
)

// ReplyError is an ERR answer or an answer that did not parse.
type ReplyError struct {
	Request string
	Reply   string
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("serialbridge: %q answered %q", e.Request, e.Reply)
}

// Bridge is one serial line to the firmware. Requests may be issued
// concurrently; each waits for the reply carrying its own number.
type Bridge struct {
	rw      io.ReadWriteCloser
	timeout time.Duration
	log     *slog.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]chan string

	done chan struct{}
	once sync.Once

	// dead is closed by the reader when the line fails; readErr is written
	// before and read only after.
	dead    chan struct{}
	readErr error
}

// Open opens device at baud and checks the firmware answers PING.
func Open(device string, baud int, timeout time.Duration, logger *slog.Logger) (*Bridge, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("serialbridge: open %s: %w", device, err)
	}
	b := New(p, timeout, logger)
	if err := b.Ping(context.Background()); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an already open line and starts its reader.
func New(rw io.ReadWriteCloser, timeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		rw:      rw,
		timeout: timeout,
		log:     logger,
		pending: make(map[uint32]chan string),
		done:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// readLoop is the only reader of the line. It hands each reply to the
// request waiting on its number.
func (b *Bridge) readLoop() {
	sc := bufio.NewScanner(b.rw)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		seq, reply, ok := splitReply(line)
		if !ok {
			b.log.Debug("ignoring untagged line", "line", line)
			continue
		}

		b.mu.Lock()
		ch, waiting := b.pending[seq]
		delete(b.pending, seq)
		b.mu.Unlock()

		if !waiting {
			b.log.Warn("dropping late reply", "seq", seq, "reply", reply)
			continue
		}
		ch <- reply
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	b.readErr = err
	close(b.dead)
}

func splitReply(line string) (uint32, string, bool) {
	head, rest, _ := strings.Cut(line, " ")
	seq, err := strconv.ParseUint(head, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(seq), strings.TrimSpace(rest), true
}

// Close stops the reader and closes the line.
func (b *Bridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.rw.Close()
	})
	return err
}

// Ping checks the firmware is alive.
func (b *Bridge) Ping(ctx context.Context) error {
	reply, err := b.request(ctx, "PING", b.timeout)
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return &ReplyError{Request: "PING", Reply: reply}
	}
	return nil
}

// request sends req under a fresh sequence number and waits up to wait for
// the reply carrying that number.
func (b *Bridge) request(ctx context.Context, req string, wait time.Duration) (string, error) {
	select {
	case <-b.done:
		return "", ErrClosed
	case <-b.dead:
		return "", fmt.Errorf("%w: %v", ErrClosed, b.readErr)
	default:
	}

	ch := make(chan string, 1)
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.pending[seq] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
	}()

	b.wmu.Lock()
	_, err := fmt.Fprintf(b.rw, "%d %s\n", seq, req)
	b.wmu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: write %q: %w", ErrClosed, req, err)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case line := <-ch:
		if strings.HasPrefix(line, "ERR") {
			return "", &ReplyError{Request: req, Reply: line}
		}
		return line, nil
	case <-timer.C:
		return "", fmt.Errorf("%w: %s", ErrTimeout, req)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", ErrClosed
	case <-b.dead:
		return "", fmt.Errorf("%w: %v", ErrClosed, b.readErr)
	}
}

// expectOK sends req and requires an OK answer.
func (b *Bridge) expectOK(ctx context.Context, req string) error {
	reply, err := b.request(ctx, req, b.timeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return &ReplyError{Request: req, Reply: reply}
	}
	return nil
}
