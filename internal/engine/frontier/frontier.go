package frontier

import (
	"sync"

	"github.com/atlascrawl/engine/pkg/types"
)

// frontier holds the per-host FIFO sub-queues (guarded by mu) plus the dedup
// index (guarded by its own mutex), which together keep admission and
// dispatch consistent as spec.md §3 requires: a URL may appear at
// most once across the union of {visited, enqueued}, and moving it from
// enqueued to visited at dispatch time must be atomic with respect to
// concurrent admission attempts for the same URL.
type frontier struct {
	mu     sync.Mutex
	dedup  *dedupIndex
	queues map[string][]types.FrontierEntry
	order  []string // round-robin host order; appended to on first sight
	cursor int
}

func newFrontier() (*frontier, error) {
	dedup, err := newDedupIndex(1 << 20)
	if err != nil {
		return nil, err
	}
	return &frontier{
		dedup:  dedup,
		queues: make(map[string][]types.FrontierEntry),
	}, nil
}

func (f *frontier) close() error {
	return f.dedup.Close()
}

// tryEnqueue admits entry if its URL is new to the union of visited and
// enqueued, appending it to its host's sub-queue on success.
func (f *frontier) tryEnqueue(host string, entry types.FrontierEntry) (bool, error) {
	admitted, err := f.dedup.admit(entry.NormalizedURL)
	if err != nil || !admitted {
		return admitted, err
	}

	f.mu.Lock()
	if _, ok := f.queues[host]; !ok {
		f.order = append(f.order, host)
	}
	f.queues[host] = append(f.queues[host], entry)
	f.mu.Unlock()
	return true, nil
}

// hostsWithWork returns the current round-robin host order, skipping hosts
// whose sub-queue is currently empty.
func (f *frontier) hostsWithWork() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hosts := make([]string, 0, len(f.order))
	for _, h := range f.order {
		if len(f.queues[h]) > 0 {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// dispatch pops the next entry for host, if any, and marks it visited.
// The pop happens under mu and the visited-mark afterwards under the dedup
// index's own mutex; until then the URL is still recorded as enqueued, so a
// concurrent admission of it is rejected throughout, and markVisited is only
// ever called here.
func (f *frontier) dispatch(host string) (types.FrontierEntry, bool, error) {
	f.mu.Lock()
	q := f.queues[host]
	if len(q) == 0 {
		f.mu.Unlock()
		return types.FrontierEntry{}, false, nil
	}
	entry := q[0]
	f.queues[host] = q[1:]
	f.mu.Unlock()

	if err := f.dedup.markVisited(entry.NormalizedURL); err != nil {
		return types.FrontierEntry{}, false, err
	}
	return entry, true, nil
}

func (f *frontier) queueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	depth := 0
	for _, q := range f.queues {
		depth += len(q)
	}
	return depth
}

func (f *frontier) counts() (visited int64, enqueued int64) {
	return f.dedup.counts()
}

// snapshot dumps every currently-queued entry, in round-robin host order,
// for the checkpoint sidecar writer.
func (f *frontier) snapshot() []types.FrontierSnapshotEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.FrontierSnapshotEntry
	for _, h := range f.order {
		for _, e := range f.queues[h] {
			out = append(out, types.FrontierSnapshotEntry{
				NormalizedURL:  e.NormalizedURL,
				Depth:          e.Depth,
				DiscoveredFrom: e.DiscoveredFrom,
			})
		}
	}
	return out
}

func (f *frontier) iterateVisited(fn func(url string) bool) error {
	return f.dedup.iterateVisited(fn)
}

// restoreVisited rehydrates one previously-visited URL from a checkpoint's
// visited sidecar, ahead of any dispatch for this run.
func (f *frontier) restoreVisited(url string) error {
	return f.dedup.restoreVisited(url)
}
