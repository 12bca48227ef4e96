// Package autoupdate receives autoupdate patches over a websocket connection
// and applies them to a data store.
package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/logger"
)

// DefaultDialer is gorilla's default dialer with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// Handler receives every text frame in the order it was read.
type Handler func(data []byte)

// Connection is a single websocket connection to the autoupdate service. It
// can be connected again after it was closed.
type Connection struct {
	URL    string
	Dialer *gorilla.Dialer

	// Timeout bounds writes when the context carries no deadline. Zero
	// disables it.
	Timeout time.Duration

	conn *gorilla.Conn
	// connLock guards conn and serializes writes.
	connLock sync.Mutex

	// mu guards the close state below.
	mu             sync.Mutex
	connCloseCh    chan int
	connCloseError error
	closed         bool
	readDone       chan struct{}

	handler Handler
	logger  logger.Logger
}

func NewConnection(url string, handler Handler, log logger.Logger) *Connection {
	return &Connection{
		URL:     url,
		Dialer:  DefaultDialer,
		Timeout: constants.DefaultRequestTimeout,
		handler: handler,
		logger:  logger.OrNop(log),
		closed:  true,
	}
}

// IsClosed reports whether the connection was closed locally or lost.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns why the connection was closed.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connCloseError
}

// Connect dials the server and starts reading frames.
func (c *Connection) Connect(ctx context.Context) error {
	if c.URL == "" {
		return constants.ErrNoURL
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}

	conn, res, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	closeCh := make(chan int)
	done := make(chan struct{})
	c.mu.Lock()
	c.closed = false
	c.connCloseError = nil
	c.connCloseCh = closeCh
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(conn, closeCh, done)
	return nil
}

// Write sends v as a json text frame.
func (c *Connection) Write(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.IsClosed() {
		return c.closedError()
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	conn := c.conn
	if conn == nil {
		return c.closedError()
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.Timeout > 0 {
		deadline = time.Now().Add(c.Timeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetWriteDeadline(time.Time{}) //nolint:errcheck

	err = conn.WriteMessage(gorilla.TextMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}
	return err
}

func (c *Connection) closedError() error {
	if err := c.Err(); err != nil && !errors.Is(err, constants.ErrClosed) {
		return fmt.Errorf("%w: %v", constants.ErrClosed, err)
	}
	return constants.ErrClosed
}

// Close sends a close frame and closes the connection. The context bounds the
// close frame write; the connection is closed locally either way. Close waits
// until the read loop has stopped delivering frames.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	done := c.readDone
	c.mu.Unlock()
	c.closeWithError(constants.ErrClosed)

	c.connLock.Lock()
	conn := c.conn
	c.conn = nil
	if conn == nil {
		c.connLock.Unlock()
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("BUG: Connection.Close: failed to set write deadline: %w", err)
				return
			}
		}
		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}
	err := conn.Close()
	c.connLock.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (c *Connection) closeWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connCloseError = err
	select {
	case <-c.connCloseCh:
	default:
		close(c.connCloseCh)
	}
}

func (c *Connection) readLoop(conn *gorilla.Conn, closeCh chan int, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		typ, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.handleError(err))
			// Frees the socket when the server went away.
			conn.Close()
			return
		}
		if typ != gorilla.TextMessage {
			c.logger.Warn("ignoring non-text autoupdate frame", "type", typ)
			continue
		}
		if c.handler != nil {
			c.handler(data)
		}
	}
}

// handleError maps a read error to the reason the connection is closed.
func (c *Connection) handleError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		c.logger.Debug("autoupdate connection closed by server", "error", err)
		return io.ErrClosedPipe
	default:
		c.logger.Error("autoupdate connection lost", "error", err)
		return err
	}
}
