// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import (
	"time"

	"github.com/square/tokenbucket/config"
	"github.com/square/tokenbucket/logging"
)

// watcher watches one bucket's activity channel for the reaper.
type watcher struct {
	bucketName   string
	maxIdle      time.Duration
	lastActivity time.Time
	activities   <-chan struct{}
}

// activityDetected tells you if activity has been detected since the last
// time this method was called.
func (w *watcher) activityDetected() bool {
	select {
	case <-w.activities:
		return true
	default:
		return false
	}
}

// tooIdle returns true if a bucket has been idle for longer than its maxIdle.
func (w *watcher) tooIdle(now time.Time) bool {
	if w.activityDetected() {
		w.lastActivity = now
		return false
	}

	return now.Sub(w.lastActivity) > w.maxIdle
}

func createWatcher(bucketName string, maxIdle time.Duration, activities <-chan struct{}) *watcher {
	return &watcher{
		bucketName: bucketName,
		maxIdle:    maxIdle,
		activities: activities}
}

// reaper removes buckets that have gone unused for their configured
// max_idle_ms. A single goroutine owns the watchers map; new watchers arrive
// over the newWatchers channel.
type reaper struct {
	reg         *Registry
	cfg         config.ReaperConfig
	newWatchers chan<- *watcher
	watchers    map[string]*watcher
}

func newReaper(reg *Registry, rc config.ReaperConfig) *reaper {
	watcherChannel := make(chan *watcher, rc.BucketWatcherBuffer)
	rp := &reaper{
		reg:         reg,
		cfg:         rc,
		watchers:    make(map[string]*watcher),
		newWatchers: watcherChannel}

	go rp.reapIdleBuckets(watcherChannel)

	return rp
}

func (rp *reaper) stop() {
	// This will trigger the goroutine waiting on watchers to exit.
	close(rp.newWatchers)
}

// watch registers a bucket for idle collection, if its config calls for any.
func (rp *reaper) watch(b *ownedBucket) {
	if b.cfg.MaxIdleMillis > 0 {
		rp.newWatchers <- createWatcher(b.name, b.cfg.MaxIdle(), b.activities)
	}
}

func (rp *reaper) addNewWatcher(w *watcher) {
	rp.watchers[w.bucketName] = w
	w.lastActivity = time.Now()
}

// checkExpirations checks all watches registered with the reaper, and
// destroys idle buckets, updating the reaper accordingly. Returns the
// duration after which it should run again.
func (rp *reaper) checkExpirations() time.Duration {
	now := time.Now()
	newSleep := rp.cfg.MinFrequency
	var reaped uint64

	for name, w := range rp.watchers {
		if w.tooIdle(now) {
			reaped++
			rp.reg.removeBucket(w.bucketName)
			delete(rp.watchers, name)
		} else if w.maxIdle < newSleep {
			// Check if we're sleeping the right amount.
			newSleep = w.maxIdle
		}
	}

	if reaped > 0 {
		logging.Printf("Reaped %d buckets due to inactivity", reaped)
	}

	return newSleep
}

// reapIdleBuckets watches all buckets for activity, deleting a bucket if no
// activity has been detected within its maxIdle.
func (rp *reaper) reapIdleBuckets(newWatchers <-chan *watcher) {
	sleep := rp.cfg.InitSleep
	logging.Printf("reapIdleBuckets started. Initial sleep %v", sleep)
	ticker := time.NewTicker(sleep)

	// Watch on a ticker, or a new watch being created.
	for {
		select {
		case w, ok := <-newWatchers:
			if ok {
				rp.addNewWatcher(w)
			} else {
				// newWatchers closed; stop the reaper.
				ticker.Stop()
				rp.newWatchers = nil
				rp.watchers = nil
				return
			}

		case <-ticker.C:
			newSleep := rp.checkExpirations()

			if newSleep != sleep {
				logging.Printf("Adjusting ticker to run with duration %v", newSleep)
				// We need a new ticker.
				ticker.Stop()
				ticker = time.NewTicker(newSleep)
				sleep = newSleep
			}
		}
	}
}
