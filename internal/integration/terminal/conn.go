package terminal

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/keystep/internal/integration/lines"
)

// connProcess is the Controllable over one bidirectional connection.
// Everything read is output; there is no error stream and no partial
// lines are reported.
type connProcess struct {
	conn   net.Conn
	opts   options
	events chan Event
	done   chan struct{}

	exited    atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// FromConn wraps an established connection. EventExit fires when the
// connection is closed by either side.
func FromConn(conn net.Conn, opts ...Option) Controllable {
	c := &connProcess{
		conn: conn,
		opts: buildOptions(opts),
		done: make(chan struct{}),
	}
	c.events = make(chan Event, c.opts.bufferSize)

	go c.readLoop()

	return c
}

// Dial connects to host:port over TCP and wraps the connection.
func Dial(ctx context.Context, host string, port int, opts ...Option) (Controllable, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return FromConn(conn, opts...), nil
}

func (c *connProcess) readLoop() {
	var splitter lines.Splitter
	buf := make([]byte, 4096)

	var exitErr error
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			complete, _ := splitter.Feed(buf[:n])
			for _, line := range complete {
				c.events <- Event{Kind: EventOutput, Text: line}
			}
		}

		if err != nil {
			if rest, ok := splitter.Flush(); ok {
				c.events <- Event{Kind: EventOutput, Text: rest}
			}
			if !isClosed(err) {
				exitErr = err
			}
			break
		}
	}

	c.exited.Store(true)
	c.close()

	c.events <- Event{Kind: EventExit, Err: exitErr}
	close(c.events)
	close(c.done)
}

// SendLine writes line to the connection.
func (c *connProcess) SendLine(line string) {
	if c.exited.Load() {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		c.opts.logger.Debug("socket write dropped", zap.Error(err))
	}
}

// Terminate closes the connection.
func (c *connProcess) Terminate() {
	c.close()
}

func (c *connProcess) close() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.opts.logger.Debug("socket close failed", zap.Error(err))
		}
	})
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func (c *connProcess) Events() <-chan Event { return c.events }

func (c *connProcess) Done() <-chan struct{} { return c.done }
