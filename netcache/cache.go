package netcache

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/yllada/vpnctl/common"
)

// Persister stores cache updates. Store implements it.
type Persister interface {
	SaveGateway(addr netip.Addr) error
	SaveDNSServers(servers []netip.Addr) error
}

// GatewayCache holds the last gateway pushed by the server.
type GatewayCache struct {
	mu      sync.RWMutex
	gateway netip.Addr

	persist *writer[netip.Addr]
}

// NewGatewayCache creates a cache. persist and logger may be nil.
func NewGatewayCache(persist Persister, logger common.Logger) *GatewayCache {
	if logger == nil {
		logger = common.NopLogger{}
	}
	c := &GatewayCache{}
	if persist != nil {
		c.persist = newWriter(persist.SaveGateway, "gateway", logger)
	}
	return c
}

// Save replaces the last known gateway. Persistence happens in the
// background.
func (c *GatewayCache) Save(addr netip.Addr) {
	c.mu.Lock()
	c.gateway = addr
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.submit(addr)
	}
}

// Flush waits for pending writes to the Persister.
func (c *GatewayCache) Flush() {
	if c.persist != nil {
		c.persist.flush()
	}
}

// Last returns the last known gateway.
func (c *GatewayCache) Last() (netip.Addr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gateway, c.gateway.IsValid()
}

// Restore sets the gateway without persisting it.
func (c *GatewayCache) Restore(addr netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateway = addr
}

// DNSServerCache holds the last DNS server list pushed by the server.
type DNSServerCache struct {
	mu      sync.RWMutex
	servers []netip.Addr

	persist *writer[[]netip.Addr]
}

// NewDNSServerCache creates a cache. persist and logger may be nil.
func NewDNSServerCache(persist Persister, logger common.Logger) *DNSServerCache {
	if logger == nil {
		logger = common.NopLogger{}
	}
	c := &DNSServerCache{}
	if persist != nil {
		c.persist = newWriter(persist.SaveDNSServers, "DNS servers", logger)
	}
	return c
}

// Save replaces the whole list. An empty list clears the cache.
// Persistence happens in the background.
func (c *DNSServerCache) Save(servers []netip.Addr) {
	list := slices.Clone(servers)

	c.mu.Lock()
	c.servers = list
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.submit(list)
	}
}

// Flush waits for pending writes to the Persister.
func (c *DNSServerCache) Flush() {
	if c.persist != nil {
		c.persist.flush()
	}
}

// Last returns a copy of the last known list.
func (c *DNSServerCache) Last() []netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.servers)
}

// Restore sets the list without persisting it.
func (c *DNSServerCache) Restore(servers []netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = slices.Clone(servers)
}
