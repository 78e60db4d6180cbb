// Package ipc streams domain events to out-of-process consumers over gRPC.
//
// The service is a single server-streaming method,
// shelfd.ipc.v1.DomainEvents/Stream. Requests and events are
// google.protobuf.Struct messages, so no generated code is needed on either
// side. A request may carry a "kinds" list to filter the stream.
package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/monitoring"
)

// Config holds configuration for the event stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is how many events a slow client may lag by before
	// events are dropped for it
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 64,
	}
}

// ErrTooManyClients is returned to a client when MaxClients are connected.
var ErrTooManyClients = errors.New("too many event stream clients")

// Publisher fans domain events out to gRPC streaming clients.
type Publisher struct {
	config Config
	sub    *events.Subscription

	server   *grpc.Server
	listener net.Listener

	clients   map[string]*client
	clientsMu sync.RWMutex

	sent    atomic.Uint64
	dropped atomic.Uint64

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type client struct {
	id    string
	kinds map[events.Kind]bool // nil means every kind
	ch    chan events.Event
}

func (c *client) wants(k events.Kind) bool {
	return c.kinds == nil || c.kinds[k]
}

// NewPublisher creates a publisher subscribed to router.
func NewPublisher(cfg Config, router *events.Router) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	p := &Publisher{
		config:  cfg,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	p.server = grpc.NewServer()
	p.server.RegisterService(&ServiceDesc, p)
	p.sub = router.Subscribe("ipc", p.publish)
	return p
}

// Start listens on ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.StartOn(lis)
}

// StartOn serves on an existing listener in the background.
func (p *Publisher) StartOn(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.listener = lis
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[ipc] event stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[ipc] serve: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream, stops the server and unsubscribes from the router.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.sub.Unsubscribe()
		close(p.stopCh)
		p.running.Store(false)
		p.server.GracefulStop()
		p.wg.Wait()
		monitoring.Logf("[ipc] event stream stopped")
	})
}

// publish is the router handler. It never blocks: a client whose buffer is
// full misses the event.
func (p *Publisher) publish(ev events.Event) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			if p.dropped.Add(1)%100 == 1 {
				monitoring.Logf("[ipc] client %s is slow, dropped %d events so far", c.id, p.dropped.Load())
			}
		}
	}
}

func (p *Publisher) addClient(kinds []events.Kind) (*client, error) {
	c := &client{
		id: uuid.NewString(),
		ch: make(chan events.Event, p.config.ClientBuffer),
	}
	if len(kinds) > 0 {
		c.kinds = make(map[events.Kind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, ErrTooManyClients
	}
	p.clients[c.id] = c
	monitoring.Logf("[ipc] client connected: %s (total: %d)", c.id, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	delete(p.clients, id)
	n := len(p.clients)
	p.clientsMu.Unlock()
	monitoring.Logf("[ipc] client disconnected: %s (remaining: %d)", id, n)
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Running bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		Clients: n,
		Sent:    p.sent.Load(),
		Dropped: p.dropped.Load(),
		Running: p.running.Load(),
	}
}
