package memcache

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/memcache-ascii/ascii"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds each request/response exchange.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultMaxIdleConns is the number of idle connections kept per server.
	DefaultMaxIdleConns = 2
)

// Config holds configuration for the memcache client.
// The zero value is usable.
type Config struct {
	// Timeout is the deadline of each exchange with a server, and of the dial
	// when Dialer is nil. An earlier context deadline takes precedence.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxIdleConns is the number of idle connections kept per server.
	// Zero means DefaultMaxIdleConns.
	MaxIdleConns int32

	// Dialer is the net.Dialer used to create new connections.
	// If nil, a net.Dialer with Timeout is used.
	Dialer *net.Dialer

	// NewPool is the connection pool factory, called with MaxIdleConns.
	// If nil, uses NewFreeListPool. NewPuddlePool bounds the total number
	// of connections instead.
	NewPool PoolFactory

	// CircuitBreakerSettings enables a circuit breaker per server. The
	// settings are used as a template: Name is set to the server address.
	// If nil, no circuit breaker is used.
	CircuitBreakerSettings *gobreaker.Settings

	// Logger receives connection and circuit breaker events.
	// If nil, nothing is logged.
	Logger logrus.FieldLogger

	// for testing purposes only
	constructor func(ctx context.Context) (*Conn, error)
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.Timeout}
	}
	if c.NewPool == nil {
		c.NewPool = NewFreeListPool
	}
	if c.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		c.Logger = logger
	}
	return c
}

// Client is a memcache client for the ASCII protocol.
// It is safe for concurrent use.
type Client struct {
	selector Selector
	config   Config

	mu     sync.RWMutex
	pools  map[string]*serverPool
	closed atomic.Bool

	stats clientStatsCollector
}

var _ Querier = (*Client)(nil)

// New creates a client for the given servers with the default configuration.
func New(servers ...string) (*Client, error) {
	return NewClient(servers, Config{})
}

// NewClient creates a client for the given "host:port" addresses or unix
// socket paths. Keys are sharded with CRC-32, see ServerList.
func NewClient(servers []string, config Config) (*Client, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	sl, err := NewServerList(servers...)
	if err != nil {
		return nil, err
	}

	return NewClientFromSelector(sl, config)
}

// NewClientFromSelector creates a client routing keys with selector.
func NewClientFromSelector(selector Selector, config Config) (*Client, error) {
	if selector == nil {
		return nil, ErrNoServers
	}

	return &Client{
		selector: selector,
		config:   config.withDefaults(),
		pools:    make(map[string]*serverPool),
	}, nil
}

// Close closes the client and the idle connections of every server.
func (c *Client) Close() {
	c.closed.Store(true)

	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*serverPool)
	c.mu.Unlock()

	for _, sp := range pools {
		sp.pool.Close()
	}
}

// poolForKey validates key and returns the pool of the server owning it.
func (c *Client) poolForKey(key string) (*serverPool, error) {
	if err := ascii.ValidateKey(key); err != nil {
		return nil, err
	}

	addr, err := c.selector.PickServer(key)
	if err != nil {
		return nil, err
	}

	return c.getOrCreatePool(addr)
}

// getOrCreatePool gets or creates a pool for the given server address.
func (c *Client) getOrCreatePool(addr net.Addr) (*serverPool, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	key := addr.String()

	// Fast path: read lock
	c.mu.RLock()
	sp, exists := c.pools[key]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	// Slow path: write lock and create
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	// Double-check after acquiring write lock
	if sp, exists := c.pools[key]; exists {
		return sp, nil
	}

	sp, err := c.createPool(addr)
	if err != nil {
		return nil, err
	}
	c.pools[key] = sp
	return sp, nil
}

// createPool creates the pool and circuit breaker of a server.
func (c *Client) createPool(addr net.Addr) (*serverPool, error) {
	logger := c.config.Logger
	network, address := addr.Network(), addr.String()

	constructor := c.config.constructor
	if constructor == nil {
		constructor = func(ctx context.Context) (*Conn, error) {
			nc, err := c.config.Dialer.DialContext(ctx, network, address)
			if err != nil {
				logger.WithField("addr", address).WithError(err).Warn("memcache: dial failed")
				return nil, &ConnectionError{Op: "dial", Addr: address, Err: err}
			}
			return NewConn(nc, c.config.Timeout), nil
		}
	}

	pool, err := c.config.NewPool(constructor, c.config.MaxIdleConns)
	if err != nil {
		return nil, err
	}

	sp := &serverPool{
		addr:   address,
		pool:   pool,
		logger: logger,
	}
	if c.config.CircuitBreakerSettings != nil {
		sp.breaker = newCircuitBreaker(address, *c.config.CircuitBreakerSettings, logger)
	}
	return sp, nil
}

// eachServer calls fn with the pool of every server, in order, and stops at
// the first error.
func (c *Client) eachServer(fn func(sp *serverPool) error) error {
	return c.selector.Each(func(addr net.Addr) error {
		sp, err := c.getOrCreatePool(addr)
		if err != nil {
			return err
		}
		return fn(sp)
	})
}

// exec routes a single-key request and runs it.
func (c *Client) exec(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	sp, err := c.poolForKey(req.Key)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}

	resp, err := sp.execute(ctx, req)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}

	if resp.HasError() {
		c.stats.recordError()
		return nil, resp.Error
	}

	return resp, nil
}

func itemFromValue(v ascii.Value) Item {
	return Item{
		Key:   v.Key,
		Value: v.Data,
		Flags: v.Flags,
		CasID: v.CAS,
		Found: true,
	}
}

// Get retrieves a single item. A miss is not an error: Item.Found is false.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	return c.getOne(ctx, ascii.NewRetrievalRequest(ascii.CmdGet, 0, key))
}

// Gets is Get with the CAS token of the item, for CompareAndSwap.
func (c *Client) Gets(ctx context.Context, key string) (Item, error) {
	return c.getOne(ctx, ascii.NewRetrievalRequest(ascii.CmdGets, 0, key))
}

// GetAndTouch retrieves a single item and updates its expiration.
func (c *Client) GetAndTouch(ctx context.Context, key string, expiration int32) (Item, error) {
	return c.getOne(ctx, ascii.NewRetrievalRequest(ascii.CmdGat, expiration, key))
}

// GetsAndTouch is GetAndTouch with the CAS token of the item.
func (c *Client) GetsAndTouch(ctx context.Context, key string, expiration int32) (Item, error) {
	return c.getOne(ctx, ascii.NewRetrievalRequest(ascii.CmdGats, expiration, key))
}

func (c *Client) getOne(ctx context.Context, req *ascii.Request) (Item, error) {
	key := req.Keys[0]
	req.Key = key

	resp, err := c.exec(ctx, req)
	if err != nil {
		return Item{}, err
	}

	v, ok := resp.Lookup(key)
	if !ok {
		c.stats.recordGet(1, 0)
		return Item{Key: key, Found: false}, nil
	}

	c.stats.recordGet(1, 1)
	return itemFromValue(v), nil
}

// GetMulti retrieves many items at once, with their CAS tokens.
// Keys are grouped by server and each server is queried concurrently with
// a single gets command. The map only holds the keys that were found.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	groups := make(map[*serverPool][]string)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		sp, err := c.poolForKey(key)
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		groups[sp] = append(groups[sp], key)
	}

	var mu sync.Mutex
	items := make(map[string]Item, len(seen))

	g, gctx := errgroup.WithContext(ctx)
	for sp, group := range groups {
		g.Go(func() error {
			resp, err := sp.execute(gctx, ascii.NewRetrievalRequest(ascii.CmdGets, 0, group...))
			if err != nil {
				return err
			}
			if resp.HasError() {
				return resp.Error
			}

			mu.Lock()
			defer mu.Unlock()
			for _, v := range resp.Values {
				items[v.Key] = itemFromValue(v)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.stats.recordError()
		return nil, err
	}

	c.stats.recordGet(len(seen), len(items))
	return items, nil
}

// Set stores an item unconditionally.
func (c *Client) Set(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdSet, item)
}

// Add stores an item only if the key doesn't already exist.
// Returns ErrNotStored otherwise.
func (c *Client) Add(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdAdd, item)
}

// Replace stores an item only if the key already exists.
// Returns ErrNotStored otherwise.
func (c *Client) Replace(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdReplace, item)
}

// Append adds item.Value after the existing value. Flags and Expiration
// are ignored by the server. Returns ErrNotStored for a missing key.
func (c *Client) Append(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdAppend, item)
}

// Prepend adds item.Value before the existing value, like Append.
func (c *Client) Prepend(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdPrepend, item)
}

// CompareAndSwap stores item only if it was not modified since item.CasID
// was read with Gets. Returns ErrCASConflict if it was, ErrCacheMiss if the
// key no longer exists.
func (c *Client) CompareAndSwap(ctx context.Context, item Item) error {
	return c.store(ctx, ascii.CmdCAS, item)
}

func (c *Client) store(ctx context.Context, cmd ascii.Command, item Item) error {
	req := ascii.NewStorageRequest(cmd, item.Key, item.Value, item.Flags, item.Expiration, item.CasID)

	resp, err := c.exec(ctx, req)
	if err != nil {
		return err
	}

	switch resp.Status {
	case ascii.StatusStored:
		c.stats.recordSet()
		return nil
	case ascii.StatusNotStored:
		return ErrNotStored
	case ascii.StatusExists:
		return ErrCASConflict
	case ascii.StatusNotFound:
		return ErrCacheMiss
	}

	c.stats.recordError()
	return fmt.Errorf("memcache: %s failed with status: %s", cmd, resp.Status)
}

// Delete removes an item. Returns ErrCacheMiss if the key does not exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.exec(ctx, &ascii.Request{Command: ascii.CmdDelete, Key: key})
	if err != nil {
		return err
	}

	if resp.IsMiss() {
		return ErrCacheMiss
	}

	c.stats.recordDelete()
	return nil
}

// Increment adds delta to the counter stored at key and returns the new
// value. The stored value must be a decimal number; the server replies with
// a CLIENT_ERROR, returned as *ClientError, otherwise.
// Returns ErrCacheMiss if the key does not exist.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdIncr, key, delta)
}

// Decrement subtracts delta from the counter stored at key, like Increment.
// memcached does not go below zero.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return c.arithmetic(ctx, ascii.CmdDecr, key, delta)
}

func (c *Client) arithmetic(ctx context.Context, cmd ascii.Command, key string, delta uint64) (uint64, error) {
	resp, err := c.exec(ctx, ascii.NewArithmeticRequest(cmd, key, delta))
	if err != nil {
		return 0, err
	}

	if resp.IsMiss() {
		return 0, ErrCacheMiss
	}

	c.stats.recordIncrement()
	return resp.Number, nil
}

// Touch updates the expiration of an item without fetching it.
// Returns ErrCacheMiss if the key does not exist.
func (c *Client) Touch(ctx context.Context, key string, expiration int32) error {
	resp, err := c.exec(ctx, &ascii.Request{Command: ascii.CmdTouch, Key: key, Expiration: expiration})
	if err != nil {
		return err
	}

	if resp.IsMiss() {
		return ErrCacheMiss
	}

	c.stats.recordTouch()
	return nil
}

// runOnServer sends a keyless request to one server.
func (c *Client) runOnServer(ctx context.Context, sp *serverPool, req *ascii.Request) (*ascii.Response, error) {
	resp, err := sp.execute(ctx, req)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	if resp.HasError() {
		c.stats.recordError()
		return nil, resp.Error
	}
	return resp, nil
}

// FlushAll invalidates all items on every server, one after the other.
// It stops at the first server that fails.
func (c *Client) FlushAll(ctx context.Context) error {
	return c.eachServer(func(sp *serverPool) error {
		_, err := c.runOnServer(ctx, sp, &ascii.Request{Command: ascii.CmdFlushAll})
		return err
	})
}

// Versions returns the version reported by every server, by address.
func (c *Client) Versions(ctx context.Context) (map[string]string, error) {
	versions := make(map[string]string)
	err := c.eachServer(func(sp *serverPool) error {
		resp, err := c.runOnServer(ctx, sp, &ascii.Request{Command: ascii.CmdVersion})
		if err != nil {
			return err
		}
		versions[sp.addr] = resp.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Ping checks that every server answers the version command.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Versions(ctx)
	return err
}

// ServerStats returns the output of the stats command of every server, by
// address. args selects a statistics group, like "slabs" or "items".
func (c *Client) ServerStats(ctx context.Context, args ...string) (map[string]map[string]string, error) {
	stats := make(map[string]map[string]string)
	err := c.eachServer(func(sp *serverPool) error {
		resp, err := c.runOnServer(ctx, sp, &ascii.Request{Command: ascii.CmdStats, Args: args})
		if err != nil {
			return err
		}
		stats[sp.addr] = resp.Stats
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// AllPoolStats returns stats for all server pools created so far.
func (c *Client) AllPoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		stats = append(stats, sp.stats())
	}
	return stats
}
