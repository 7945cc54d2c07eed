package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type acquireResult int

const (
	slotProceed acquireResult = iota
	slotWait
	slotRejected
)

// pushEntry tracks in-flight push triggers for one merge request URL.
type pushEntry struct {
	active int
	wake   chan struct{}
	last   time.Time
}

// pushDeduplicator limits concurrent push-trigger processing per merge
// request URL. The first trigger proceeds immediately; with the backlog
// enabled a second trigger waits for the first to finish; anything beyond
// that is discarded. Idle entries expire after the TTL.
type pushDeduplicator struct {
	mu      sync.Mutex
	entries map[string]*pushEntry
}

func newPushDeduplicator() *pushDeduplicator {
	return &pushDeduplicator{entries: map[string]*pushEntry{}}
}

// tryAcquire reserves a slot for url. The returned channel is non-nil only
// for slotWait; a receive on it means the earlier task finished. Expired
// entries are swept on every call.
func (d *pushDeduplicator) tryAcquire(url string, maxTasks int, ttl time.Duration) (acquireResult, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, e := range d.entries {
		if now.Sub(e.last) >= ttl {
			delete(d.entries, key)
		}
	}

	e, ok := d.entries[url]
	if !ok {
		e = &pushEntry{wake: make(chan struct{}, 1)}
		d.entries[url] = e
	}
	e.last = now

	if e.active >= maxTasks {
		return slotRejected, nil
	}
	e.active++
	if e.active == 1 {
		return slotProceed, nil
	}
	return slotWait, e.wake
}

// release frees a slot previously handed out by tryAcquire and wakes one
// waiter if any.
func (d *pushDeduplicator) release(url string) {
	d.mu.Lock()
	e, ok := d.entries[url]
	if ok && e.active > 0 {
		e.active--
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// acquire reserves a push slot for url, blocking when an earlier trigger
// is still running and the backlog admits one more. It returns false when
// the trigger should be discarded; every true return must be paired with a
// release call.
func (d *pushDeduplicator) acquire(ctx context.Context, url string, backlog bool, ttl time.Duration) bool {
	maxTasks := 1
	if backlog {
		maxTasks = 2
	}

	result, wake := d.tryAcquire(url, maxTasks, ttl)
	switch result {
	case slotProceed:
		return true
	case slotWait:
		log.Info().Str("url", url).Msg("push trigger queued behind active task")
		select {
		case <-wake:
			return true
		case <-ctx.Done():
			d.release(url)
			return false
		}
	}
	return false
}
