// Package serial is the serial commander (spec.md §4.C): a stateful
// WebSocket client that logs in over a VM's emulated serial console and
// runs shell commands against it, framing command output with a sentinel
// line rather than interpreting terminal control sequences. The framing
// approach is grounded on teacherref/expect's regex-over-a-reader pattern,
// adapted from a local pipe to a gorilla/websocket transport.
package serial

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"falcon/falconerr"
	"falcon/internal/falconlog"
)

// State is the commander's connection/session state machine.
type State int

const (
	Empty State = iota
	Connecting
	WaitingForPrompt
	Ready
	Executing
	Terminated
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Connecting:
		return "connecting"
	case WaitingForPrompt:
		return "waiting-for-prompt"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	connectRetryAttempts = 30
	connectRetryInterval = time.Second
	defaultReadTimeout   = 10 * time.Second
)

// sentinelRegex anchors the end-of-command marker to the start of a line.
// Go's RE2 engine has no CRLF-aware "R" flag; in multi-line mode "^" matches
// after the "\n" of a "\r\n" line ending, so CRLF output still anchors, but
// a sentinel preceded by a bare "\r" does not match. Matching runs on the
// raw buffer; CR bytes are removed (see stripCR) only when output is
// extracted.
var sentinelRegex = regexp.MustCompile(`(?m)^__FALCON_EXEC_FINISHED__`)

const (
	loginPromptRegex    = `login:`
	passwordPromptRegex = `Password:`
	shellPromptRegex    = `root@.+#`
	promptCommand       = `PROMPT_COMMAND='echo __FALCON_EXEC_FINISHED__'`
)

// Commander drives one VM's serial console over a WebSocket.
type Commander struct {
	node  string
	state State

	conn *websocket.Conn
	buf  []byte
}

// New builds a Commander bound to node, in the Empty state.
func New(node string) *Commander {
	return &Commander{node: node, state: Empty}
}

// State reports the commander's current state.
func (c *Commander) State() State { return c.state }

// Connect dials ws://{addr}/instance/serial, retrying up to 30 times at 1s
// cadence, then runs the login protocol.
func (c *Commander) Connect(ctx context.Context, addr string) error {
	c.state = Connecting

	url := fmt.Sprintf("ws://%s/instance/serial", addr)

	var lastErr error
	for attempt := 1; attempt <= connectRetryAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			c.conn = conn
			return c.login(ctx)
		}

		lastErr = err
		falconlog.Warn("serial connect to %s attempt %d/%d failed: %v", c.node, attempt, connectRetryAttempts, err)

		select {
		case <-ctx.Done():
			c.state = Terminated
			return falconerr.New(falconerr.Exec, "serial connect "+c.node, ctx.Err())
		case <-time.After(connectRetryInterval):
		}
	}

	c.state = Terminated
	return falconerr.New(falconerr.Exec, "serial connect "+c.node, lastErr)
}

func (c *Commander) login(ctx context.Context) error {
	c.state = WaitingForPrompt

	// Two ENTERs provoke a login prompt on an idle TTY.
	if err := c.send("\r\n\r\n"); err != nil {
		return err
	}
	if _, err := c.waitFor(ctx, loginPromptRegex, defaultReadTimeout); err != nil {
		return err
	}

	if err := c.send("root\n"); err != nil {
		return err
	}

	matched, err := c.waitForAny(ctx, []string{passwordPromptRegex, shellPromptRegex}, defaultReadTimeout)
	if err != nil {
		return err
	}

	if matched == passwordPromptRegex {
		if err := c.send("\n"); err != nil {
			return err
		}
		if _, err := c.waitFor(ctx, shellPromptRegex, defaultReadTimeout); err != nil {
			return err
		}
	}

	for _, cmd := range []string{"export TERM=dumb\n", "stty raw\n", promptCommand + "\n"} {
		if err := c.send(cmd); err != nil {
			return err
		}
		if _, err := c.readUntil(ctx, sentinelOrEcho(cmd), defaultReadTimeout); err != nil {
			return err
		}
	}

	c.state = Ready
	return nil
}

// sentinelOrEcho matches either the command's own echoed line or, once
// PROMPT_COMMAND takes effect, the sentinel itself.
func sentinelOrEcho(cmd string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^(` + regexp.QuoteMeta(strings.TrimRight(cmd, "\n")) + `|__FALCON_EXEC_FINISHED__)`)
}

// Exec runs cmd and returns its output, stripped of the echoed command
// line and the trailing sentinel line, per spec.md §4.C.
func (c *Commander) Exec(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if c.state != Ready {
		return "", falconerr.New(falconerr.Exec, "exec on "+c.node, fmt.Errorf("commander not ready (state=%s)", c.state))
	}
	if timeout == 0 {
		timeout = defaultReadTimeout
	}

	c.state = Executing

	if err := c.send(cmd + "\n"); err != nil {
		c.state = Terminated
		return "", err
	}

	raw, err := c.readUntil(ctx, sentinelRegex, timeout)
	if err != nil {
		c.state = Terminated
		return "", falconerr.New(falconerr.Exec, "exec on "+c.node, err)
	}

	c.state = Ready
	return extractOutput(raw), nil
}

// extractOutput drops any newlines left in the buffer by the previous read,
// then the echoed command line (the first line) and the trailing sentinel
// line, along with its own trailing newline.
func extractOutput(raw string) string {
	lines := strings.Split(strings.TrimLeft(stripCR(raw), "\n"), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for len(lines) > 0 && !strings.HasPrefix(lines[len(lines)-1], "__FALCON_EXEC_FINISHED__") {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func stripCR(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func (c *Commander) send(s string) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		return falconerr.New(falconerr.Exec, "serial write to "+c.node, err)
	}
	return nil
}

// waitFor reads until pattern matches anywhere in the accumulated buffer,
// bounded by timeout.
func (c *Commander) waitFor(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	re := regexp.MustCompile(pattern)
	return c.readUntil(ctx, re, timeout)
}

// waitForAny reads until one of patterns matches, returning which one.
func (c *Commander) waitForAny(ctx context.Context, patterns []string, timeout time.Duration) (string, error) {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.state = Terminated
			return "", falconerr.New(falconerr.Exec, "serial read from "+c.node, fmt.Errorf("timed out waiting for %v", patterns))
		}

		if err := c.recvInto(remaining); err != nil {
			c.state = Terminated
			return "", err
		}

		for i, re := range res {
			if re.Match(c.buf) {
				c.consumeThrough(re)
				return patterns[i], nil
			}
		}
	}
}

// readUntil reads from the websocket until re matches the accumulated
// buffer, a close/error occurs, or timeout elapses; on any failure it
// returns a typed error and discards partial data, per spec.md §4.C's
// "never silently succeeds on a truncated response".
func (c *Commander) readUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.state = Terminated
			return "", falconerr.New(falconerr.Exec, "serial read from "+c.node, fmt.Errorf("timed out waiting for %s", re.String()))
		}

		if err := c.recvInto(remaining); err != nil {
			c.state = Terminated
			return "", err
		}

		if loc := re.FindIndex(c.buf); loc != nil {
			out := string(c.buf[:loc[1]])
			c.buf = c.buf[loc[1]:]
			return out, nil
		}
	}
}

// recvInto reads one websocket message, bounded by a read deadline, and
// appends it to the accumulated buffer. gorilla/websocket has no
// context-aware read, so a SetReadDeadline stands in for ctx cancellation
// here.
func (c *Commander) recvInto(timeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return falconerr.New(falconerr.Exec, "set read deadline for "+c.node, err)
	}

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return falconerr.New(falconerr.Exec, "serial read from "+c.node, err)
	}

	c.buf = append(c.buf, msg...)
	return nil
}

func (c *Commander) consumeThrough(re *regexp.Regexp) {
	if loc := re.FindIndex(c.buf); loc != nil {
		c.buf = c.buf[loc[1]:]
	}
}

// Close terminates the underlying WebSocket connection.
func (c *Commander) Close() error {
	if c.conn == nil {
		return nil
	}
	c.state = Terminated
	return c.conn.Close()
}
