package frontier

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"
)

// dedupIndex is the VisitedSet/EnqueuedSet pair from spec.md §3: the union
// of the two sets is consulted on every admission attempt, and moving a
// URL from enqueued into visited at dispatch time must be atomic with
// respect to concurrent admission attempts for the same URL.
//
// A cuckoo filter keyed by the URL's xxhash gives a cheap definite-negative
// answer for the overwhelming majority of admission checks (a URL never
// seen before); buntdb, an embedded ordered key/value store run in
// in-memory mode, is the exact backing set consulted on a filter hit and
// is also what the checkpoint sidecar writer iterates to dump the visited
// set to disk.
type dedupIndex struct {
	mu            sync.Mutex
	db            *buntdb.DB
	filter        *cuckoo.Filter
	visitedCount  int64
	enqueuedCount int64
}

const (
	enqueuedPrefix = "e:"
	visitedPrefix  = "v:"
)

func newDedupIndex(capacity uint) (*dedupIndex, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open dedup index: %w", err)
	}
	return &dedupIndex{
		db:     db,
		filter: cuckoo.NewFilter(capacity),
	}, nil
}

func (d *dedupIndex) Close() error {
	return d.db.Close()
}

func filterKey(url string) []byte {
	h := xxhash.Sum64String(url)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}
	return b
}

// admit reports whether url is new to the union of {visited, enqueued} and,
// if so, records it as enqueued. It is the single atomic admit-or-reject
// decision point the scheduler's admission pipeline relies on.
func (d *dedupIndex) admit(url string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := filterKey(url)
	if d.filter.Lookup(key) {
		exists, err := d.exactlyPresentLocked(url)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	if err := d.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(enqueuedPrefix+url, "1", nil)
		return err
	}); err != nil {
		return false, fmt.Errorf("mark enqueued: %w", err)
	}
	d.filter.InsertUnique(key)
	d.enqueuedCount++
	return true, nil
}

func (d *dedupIndex) exactlyPresentLocked(url string) (bool, error) {
	present := false
	err := d.db.View(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(enqueuedPrefix + url); err == nil {
			present = true
			return nil
		}
		if _, err := tx.Get(visitedPrefix + url); err == nil {
			present = true
		}
		return nil
	})
	return present, err
}

// markVisited moves url from enqueued to visited. Called exactly once per
// dispatched URL, under the scheduler's dispatch-side serialization.
func (d *dedupIndex) markVisited(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(enqueuedPrefix + url)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		_, _, err = tx.Set(visitedPrefix+url, "1", nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark visited: %w", err)
	}
	d.enqueuedCount--
	d.visitedCount++
	return nil
}

// restoreVisited marks url as visited directly, skipping the usual
// enqueue-then-dispatch transition. Used only to rehydrate a prior
// checkpoint's visited set before a crawl resumes dispatching.
func (d *dedupIndex) restoreVisited(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(visitedPrefix+url, "1", nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("restore visited: %w", err)
	}
	d.filter.InsertUnique(filterKey(url))
	d.visitedCount++
	return nil
}

func (d *dedupIndex) counts() (visited int64, enqueued int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visitedCount, d.enqueuedCount
}

// iterateVisited calls fn for every visited URL, in key order. Used only
// to serialize the visited-set sidecar at checkpoint time.
func (d *dedupIndex) iterateVisited(fn func(url string) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(visitedPrefix+"*", func(key, _ string) bool {
			return fn(key[len(visitedPrefix):])
		})
	})
}
