package frontier

import (
	"sync"
	"time"

	"github.com/atlascrawl/engine/pkg/types"
)

// hostBucket is one per-host token bucket. tokens stays within [0, burst];
// refill is computed from elapsed wall-clock time on demand rather than by
// a background ticker per host.
type hostBucket struct {
	mu         sync.Mutex
	tokens     float64
	rate       float64
	burst      float64
	lastRefill time.Time
}

func newHostBucket(rate float64) *hostBucket {
	burst := rate
	if burst < 2 {
		burst = 2
	}
	return &hostBucket{
		tokens:     burst,
		rate:       rate,
		burst:      burst,
		lastRefill: time.Now(),
	}
}

// tryConsume refills by elapsed time and, if at least one token is
// available, consumes it and reports true.
func (b *hostBucket) tryConsume(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *hostBucket) snapshot(host string) types.HostBucketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.HostBucketSnapshot{
		Host:       host,
		Tokens:     b.tokens,
		Rate:       b.rate,
		Burst:      b.burst,
		LastRefill: b.lastRefill,
	}
}

// bucketMap is the process-global host -> bucket table, created lazily on
// first sight of a host.
type bucketMap struct {
	mu      sync.Mutex
	rate    float64
	buckets map[string]*hostBucket
}

func newBucketMap(rate float64) *bucketMap {
	if rate <= 0 {
		rate = 2
	}
	return &bucketMap{rate: rate, buckets: make(map[string]*hostBucket)}
}

func (m *bucketMap) get(host string) *hostBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[host]
	if !ok {
		b = newHostBucket(m.rate)
		m.buckets[host] = b
	}
	return b
}

func (m *bucketMap) snapshot() []types.HostBucketSnapshot {
	m.mu.Lock()
	hosts := make([]string, 0, len(m.buckets))
	bs := make([]*hostBucket, 0, len(m.buckets))
	for host, b := range m.buckets {
		hosts = append(hosts, host)
		bs = append(bs, b)
	}
	m.mu.Unlock()

	out := make([]types.HostBucketSnapshot, len(hosts))
	for i, host := range hosts {
		out[i] = bs[i].snapshot(host)
	}
	return out
}
