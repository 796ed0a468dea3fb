package gateway

import (
	"sync"
)

// conn 一条 WebSocket 连接的网关侧状态。send 由写协程独占消费。
type conn struct {
	id     string
	userID int64
	send   chan []byte

	mu      sync.Mutex
	buckets map[string]bool // 订阅中的 bucketKey
}

func (c *conn) subscribe(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.buckets[k] = true
	}
}

func (c *conn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.buckets))
	for k := range c.buckets {
		out = append(out, k)
	}
	return out
}

// Registry 连接注册表：bucketKey -> conns 与 conn_id -> conn 双索引。
type Registry struct {
	mu       sync.RWMutex
	byBucket map[string]map[string]*conn
	byConn   map[string]*conn
}

func NewRegistry() *Registry {
	return &Registry{
		byBucket: make(map[string]map[string]*conn),
		byConn:   make(map[string]*conn),
	}
}

func (r *Registry) add(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.id] = c
}

func (r *Registry) bind(c *conn, bucketKey string) {
	c.subscribe(bucketKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byBucket[bucketKey]
	if m == nil {
		m = make(map[string]*conn)
		r.byBucket[bucketKey] = m
	}
	m[c.id] = c
}

func (r *Registry) remove(c *conn) {
	keys := c.subscribed()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if m := r.byBucket[k]; m != nil {
			delete(m, c.id)
			if len(m) == 0 {
				delete(r.byBucket, k)
			}
		}
	}
	delete(r.byConn, c.id)
}

func (r *Registry) listByBucket(bucketKey string) []*conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byBucket[bucketKey]
	if len(m) == 0 {
		return nil
	}
	out := make([]*conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) getByConnID(connID string) *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

func (r *Registry) connCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
