package autoupdate

import (
	"context"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/datastore"
	"github.com/openslides/vmrepo/pkg/logger"
)

type Config struct {
	URL           string
	Subscriptions []Subscription

	// ReconnectInterval defaults to constants.DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// RequestTimeout defaults to constants.DefaultRequestTimeout.
	RequestTimeout time.Duration

	Dialer *gorilla.Dialer
	Logger logger.Logger
}

// Client keeps a data store in sync with the autoupdate service. On every
// (re)connect it clears the subscribed collections and subscribes again; the
// server answers with the full data followed by incremental patches.
type Client struct {
	ds   *datastore.Store
	conn *ReconnectingConnection
	subs []Subscription

	logger  logger.Logger
	timeout time.Duration

	patches  atomic.Int64
	rejected atomic.Int64
}

func NewClient(ds *datastore.Store, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, constants.ErrNoURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = constants.DefaultReconnectInterval
	}

	c := &Client{
		ds:      ds,
		subs:    cfg.Subscriptions,
		logger:  logger.OrNop(cfg.Logger),
		timeout: timeout,
	}
	conn := NewConnection(cfg.URL, c.handle, c.logger)
	conn.Timeout = timeout
	if cfg.Dialer != nil {
		conn.Dialer = cfg.Dialer
	}
	c.conn = NewReconnectingConnection(conn, interval)
	c.conn.OnConnect = c.subscribe
	return c, nil
}

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *Client) State() State {
	return c.conn.State()
}

// Patches returns the number of applied and rejected frames.
func (c *Client) Patches() (applied, rejected int64) {
	return c.patches.Load(), c.rejected.Load()
}

func (c *Client) collections() []string {
	names := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		names = append(names, s.Collection)
	}
	return names
}

func (c *Client) subscribe(ctx context.Context) error {
	req, err := NewSubscribeRequest(c.subs)
	if err != nil {
		return err
	}
	if len(c.subs) > 0 {
		c.ds.Clear(c.collections()...)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Write(ctx, req); err != nil {
		return err
	}
	c.logger.Debug("autoupdate subscribed", "id", req.ID, "collections", c.collections())
	return nil
}

func (c *Client) handle(data []byte) {
	changes, err := ParsePatch(data)
	if err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping autoupdate frame", "error", err)
		return
	}
	c.ds.Apply(changes)
	c.patches.Add(1)
}
