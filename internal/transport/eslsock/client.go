// Package eslsock maintains the FreeSWITCH Event Socket Layer control
// connection. It authenticates, subscribes to call lifecycle events and, on
// every answered channel, instructs FreeSWITCH to attach a media stream
// pointing at this process's /stream endpoint. Media itself never touches
// this socket; it only carries control traffic.
//
// The wire protocol is MIME-style: blocks of "Key: value" headers terminated
// by a blank line, with an optional body whose length is announced via
// Content-Length. Event details arrive in the body as another header block.
package eslsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// dialTimeout bounds one connection attempt.
	dialTimeout = 10 * time.Second

	// initialBackoff is the first reconnect delay; it doubles per failure up
	// to Config.ReconnectMax.
	initialBackoff = time.Second

	// subscribedEvents is the event list this client acts on.
	subscribedEvents = "CHANNEL_ANSWER CHANNEL_HANGUP_COMPLETE"
)

// Config wires the client to one FreeSWITCH instance.
type Config struct {
	// Addr is the event socket address, typically host:8021.
	Addr string

	// Password authenticates the connection (FreeSWITCH default "ClueCon").
	Password string

	// MediaURL is the WebSocket URL handed to uuid_audio_stream, pointing at
	// this process's /stream endpoint.
	MediaURL string

	// ReconnectMax caps the exponential reconnect backoff. Defaults to 30 s.
	ReconnectMax time.Duration
}

// Client is the reconnecting ESL control client. Create with New, drive with
// Run.
type Client struct {
	cfg Config
	log *slog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context) (net.Conn, error)

	// OnHangup, when set, is invoked with the channel UUID of every
	// CHANNEL_HANGUP_COMPLETE event. The media socket closing already tears
	// the call down; this hook exists for bookkeeping.
	OnHangup func(uuid string)
}

// New validates cfg and returns a Client.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("eslsock: addr must not be empty")
	}
	if cfg.MediaURL == "" {
		return nil, errors.New("eslsock: media URL must not be empty")
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{cfg: cfg, log: log}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		return d.DialContext(ctx, "tcp", cfg.Addr)
	}
	return c, nil
}

// Run connects and serves the event loop until ctx is cancelled, redialling
// with exponential backoff after every connection failure. It returns
// ctx.Err() on shutdown.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := c.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("esl connection lost", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, c.cfg.ReconnectMax)
	}
}

// serveOnce runs one full connection lifecycle: dial, authenticate,
// subscribe, then pump events until the connection breaks.
func (c *Client) serveOnce(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("eslsock: dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	// Unblock the reader when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	if err := c.handshake(conn, r); err != nil {
		return err
	}
	c.log.Info("esl connected", "addr", c.cfg.Addr)

	for {
		headers, body, err := readMessage(r)
		if err != nil {
			return fmt.Errorf("eslsock: read event: %w", err)
		}
		c.handleEvent(conn, headers, body)
	}
}

// handshake waits for the auth request, authenticates and subscribes to the
// channel lifecycle events.
func (c *Client) handshake(conn net.Conn, r *bufio.Reader) error {
	headers, _, err := readMessage(r)
	if err != nil {
		return fmt.Errorf("eslsock: read greeting: %w", err)
	}
	if ct := headers["Content-Type"]; ct != "auth/request" {
		return fmt.Errorf("eslsock: unexpected greeting %q", ct)
	}

	if err := sendCommand(conn, "auth "+c.cfg.Password); err != nil {
		return err
	}
	headers, _, err = readMessage(r)
	if err != nil {
		return fmt.Errorf("eslsock: read auth reply: %w", err)
	}
	if reply := headers["Reply-Text"]; !strings.HasPrefix(reply, "+OK") {
		return fmt.Errorf("eslsock: authentication rejected: %q", reply)
	}

	return sendCommand(conn, "event plain "+subscribedEvents)
}

// handleEvent dispatches one parsed event. Event fields live in the body
// when present, with the envelope headers as fallback.
func (c *Client) handleEvent(conn net.Conn, headers, body map[string]string) {
	get := func(key string) string {
		if v, ok := body[key]; ok {
			return v
		}
		return headers[key]
	}

	switch get("Event-Name") {
	case "CHANNEL_ANSWER":
		uuid := get("Unique-ID")
		if uuid == "" {
			return
		}
		caller := get("Caller-Caller-ID-Number")
		if caller == "" {
			caller = "unknown"
		}
		c.log.Info("call answered, attaching media stream", "uuid", uuid, "caller", caller)

		meta := fmt.Sprintf(`{"uuid": %q, "caller": %q}`, uuid, caller)
		cmd := fmt.Sprintf("api uuid_audio_stream %s start %s mono 8000 %s", uuid, c.cfg.MediaURL, meta)
		if err := sendCommand(conn, cmd); err != nil {
			c.log.Error("audio stream start failed", "uuid", uuid, "error", err)
		}

	case "CHANNEL_HANGUP_COMPLETE":
		uuid := get("Unique-ID")
		c.log.Info("call hung up", "uuid", uuid)
		if c.OnHangup != nil && uuid != "" {
			c.OnHangup(uuid)
		}
	}
}

// sendCommand writes one ESL command terminated by the protocol's double
// newline.
func sendCommand(w io.Writer, cmd string) error {
	if _, err := io.WriteString(w, cmd+"\n\n"); err != nil {
		return fmt.Errorf("eslsock: send %q: %w", strings.Fields(cmd)[0], err)
	}
	return nil
}

// readMessage reads one header block plus its optional body. The body, when
// present, is parsed as a second header block (plain-format events).
func readMessage(r *bufio.Reader) (headers, body map[string]string, err error) {
	headers, err = readHeaders(r)
	if err != nil {
		return nil, nil, err
	}

	if cl := headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("eslsock: bad Content-Length %q", cl)
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, nil, err
		}
		body = parseHeaderBlock(string(raw))
	}
	return headers, body, nil
}

// readHeaders consumes lines up to the blank terminator.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		if k, v, ok := strings.Cut(line, ": "); ok {
			headers[k] = strings.TrimSpace(v)
		}
	}
}

// parseHeaderBlock parses a complete header block held in memory.
func parseHeaderBlock(s string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		if k, v, ok := strings.Cut(strings.TrimRight(line, "\r"), ": "); ok {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers
}
