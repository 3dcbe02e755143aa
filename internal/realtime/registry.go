package realtime

import (
	"log/slog"
	"sync"
)

// DropObserver is told when a connection is dropped for not keeping up.
type DropObserver interface {
	ConnectionDropped()
}

// Registry maps topics to the connections attached to this process.
// Subscriptions change only on connection open/close and explicit join/leave.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[*Conn]struct{}
	conns  map[*Conn]map[string]struct{}

	log      *slog.Logger
	observer DropObserver
}

func NewRegistry(log *slog.Logger, observer DropObserver) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		topics:   make(map[string]map[*Conn]struct{}),
		conns:    make(map[*Conn]map[string]struct{}),
		log:      log,
		observer: observer,
	}
}

// Subscribe attaches c to topic. Closed connections are ignored.
func (r *Registry) Subscribe(c *Conn, topic string) bool {
	if c.Closed() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[*Conn]struct{})
		r.topics[topic] = subs
	}
	subs[c] = struct{}{}

	own, ok := r.conns[c]
	if !ok {
		own = make(map[string]struct{})
		r.conns[c] = own
	}
	own[topic] = struct{}{}
	return true
}

func (r *Registry) Unsubscribe(c *Conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(c, topic)
}

func (r *Registry) unsubscribeLocked(c *Conn, topic string) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if own, ok := r.conns[c]; ok {
		delete(own, topic)
	}
}

// Remove detaches c from every topic.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.conns[c] {
		r.unsubscribeLocked(c, topic)
	}
	delete(r.conns, c)
}

func (r *Registry) IsSubscribed(c *Conn, topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[topic][c]
	return ok
}

// Broadcast queues data on every connection attached to topic, skipping connections owned
// by excludeUserID. A connection whose queue is full is closed and removed; the others are
// unaffected. It returns the number of connections the data was queued on.
func (r *Registry) Broadcast(topic string, data []byte, excludeUserID string) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.topics[topic]))
	for c := range r.topics[topic] {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Enqueue(data) {
			delivered++
			continue
		}
		r.drop(c, topic)
	}
	return delivered
}

func (r *Registry) drop(c *Conn, topic string) {
	if !c.Closed() {
		r.log.Warn("dropping connection that cannot keep up", "conn_id", c.id, "user_id", c.userID, "topic", topic)
		if r.observer != nil {
			r.observer.ConnectionDropped()
		}
	}
	c.Close()
	r.Remove(c)
}

// CloseAll closes every attached connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.topics = make(map[string]map[*Conn]struct{})
	r.conns = make(map[*Conn]map[string]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Stats reports open connections and topics with at least one subscriber.
func (r *Registry) Stats() (conns, topics int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.topics)
}
