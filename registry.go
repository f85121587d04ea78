// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/square/tokenbucket/config"
	"github.com/square/tokenbucket/events"
	"github.com/square/tokenbucket/lifecycle"
	"github.com/square/tokenbucket/logging"
	"github.com/square/tokenbucket/stats"
)

// Registry serves named buckets built from a config.Config, and is safe for
// concurrent use. Buckets named in the config are created on Start; if a
// dynamic bucket template is configured, buckets for unknown names are
// created on first use and garbage collected when idle. A default bucket, if
// configured, answers for any name that matches nothing else.
type Registry struct {
	cfg               *config.Config
	reaperCfg         config.ReaperConfig
	buckets           map[string]*ownedBucket
	defaultBucket     *ownedBucket
	listener          events.Listener
	statsListener     stats.Listener
	eventQueueBufSize int
	producer          *events.EventProducer
	reaper            *reaper
	clock             clock
	currentStatus     lifecycle.Status
	sync.RWMutex      // Embedded mutex
}

// NewRegistry creates a registry from cfg, with reaping of idle buckets
// governed by reaperCfg. Defaults are applied to cfg and it is validated up
// front; the buckets themselves are created by Start.
func NewRegistry(cfg *config.Config, reaperCfg config.ReaperConfig) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Registry{
		cfg:       cfg,
		reaperCfg: reaperCfg,
		buckets:   make(map[string]*ownedBucket),
		clock:     defaultClock}, nil
}

// Start creates the configured buckets and starts event dispatch and the
// reaper. Starting an already started registry is an error.
func (r *Registry) Start() error {
	r.Lock()
	defer r.Unlock()

	if r.currentStatus == lifecycle.Started {
		return errors.New("registry already started")
	}

	if err := r.createBucketsLocked(); err != nil {
		r.destroyBucketsLocked()
		return err
	}

	if r.producer == nil {
		bufSize := r.eventQueueBufSize
		if bufSize < 1 {
			bufSize = 1
		}

		// A single producer, registered on first start and kept across
		// restarts, fans out to the configured listener and the stats
		// listener.
		r.producer = events.RegisterListener(func(e events.Event) {
			if r.listener != nil {
				r.listener(e)
			}

			if r.statsListener != nil {
				r.statsListener.HandleEvent(e)
			}
		}, bufSize)
	}

	r.reaper = newReaper(r, r.reaperCfg)
	for _, b := range r.buckets {
		r.reaper.watch(b)
	}

	r.currentStatus = lifecycle.Started
	return nil
}

// Stop destroys all buckets and stops the reaper. Stopping a stopped
// registry is a no-op. A stopped registry may be started again; dynamic
// buckets do not survive the restart.
func (r *Registry) Stop() {
	r.Lock()
	defer r.Unlock()

	if r.currentStatus == lifecycle.Stopped {
		return
	}

	r.currentStatus = lifecycle.Stopped
	r.reaper.stop()
	r.reaper = nil
	r.destroyBucketsLocked()
}

func (r *Registry) createBucketsLocked() error {
	if r.cfg.DefaultBucket != nil {
		b, err := newOwnedBucket(config.DefaultBucketName, r.cfg.DefaultBucket, false, r.clock)
		if err != nil {
			return err
		}

		r.defaultBucket = b
	}

	for name, bCfg := range r.cfg.Buckets {
		b, err := newOwnedBucket(name, bCfg, false, r.clock)
		if err != nil {
			return err
		}

		r.buckets[name] = b
	}

	return nil
}

func (r *Registry) destroyBucketsLocked() {
	if r.defaultBucket != nil {
		r.defaultBucket.Destroy()
		r.defaultBucket = nil
	}

	for name, b := range r.buckets {
		b.Destroy()
		delete(r.buckets, name)
	}
}

// SetLogger sets the logger the registry and its buckets log through. Must
// be called before the first Start.
func (r *Registry) SetLogger(logger logging.Logger) {
	if r.everStarted() {
		panic("Cannot set logger after registry has started!")
	}

	logging.SetLogger(logger)
}

// SetListener registers a listener for bucket events, buffered by
// eventQueueBufSize. Must be called before the first Start; the event
// producer reads the listener unsynchronized from then on.
func (r *Registry) SetListener(listener events.Listener, eventQueueBufSize int) {
	if r.everStarted() {
		panic("Cannot add listener after registry has started!")
	}

	if eventQueueBufSize < 1 {
		panic("Event queue buffer size must be greater than 0")
	}

	r.listener = listener
	r.eventQueueBufSize = eventQueueBufSize
}

// SetStatsListener registers a stats listener, fed from the same event
// stream as SetListener. Must be called before the first Start.
func (r *Registry) SetStatsListener(listener stats.Listener) {
	if r.everStarted() {
		panic("Cannot add listener after registry has started!")
	}

	r.statsListener = listener
}

// Allow claims numTokens from the named bucket and returns the duration the
// caller must wait before acting on them, 0 meaning they may proceed
// immediately. Claimed tokens cannot be returned. If the wait would exceed
// maxWait the claim fails with reason ER_TIMED_OUT_WAITING and no tokens are
// taken; maxWait 0 means "only succeed immediately" and maxWait < 0 means
// "use the bucket's configured wait timeout".
func (r *Registry) Allow(name string, numTokens int64, maxWait time.Duration) (time.Duration, error) {
	if numTokens < 1 {
		panic(fmt.Sprintf("Must request at least 1 token; was asked for %v", numTokens))
	}

	if !r.running() {
		return 0, newError("Registry is not running", ER_NOT_RUNNING)
	}

	b, err := r.findBucket(name)
	if err != nil {
		// Attempted to create a dynamic bucket and failed.
		r.Emit(events.NewBucketMissedEvent(name, true))
		return 0, err
	}

	if b == nil {
		r.Emit(events.NewBucketMissedEvent(name, false))
		return 0, newError("No such bucket "+name, ER_NO_SUCH_BUCKET)
	}

	if numTokens > b.Config().MaxTokensPerRequest && b.Config().MaxTokensPerRequest > 0 {
		r.Emit(events.NewTooManyTokensRequestedEvent(name, b.Dynamic(), numTokens))
		return 0, newError(fmt.Sprintf("Too many tokens requested. Bucket %v, numTokens=%v, maxTokensPerRequest=%v",
			name, numTokens, b.Config().MaxTokensPerRequest),
			ER_TOO_MANY_TOKENS_REQUESTED)
	}

	if maxWait < 0 {
		maxWait = b.Config().WaitTimeout()
	}

	wait, ok := b.reserve(numTokens, maxWait)

	if !ok {
		// Could not claim tokens within the given max wait time.
		r.Emit(events.NewTimedOutEvent(name, b.Dynamic(), numTokens))
		return 0, newError(fmt.Sprintf("Timed out waiting on %v", name), ER_TIMED_OUT_WAITING)
	}

	// The only positive result.
	r.Emit(events.NewTokensServedEvent(name, b.Dynamic(), numTokens, wait))
	return wait, nil
}

// Take claims numTokens from the named bucket, sleeps out the wait Allow
// imposes, and returns the duration it slept. The bucket's configured wait
// timeout applies.
func (r *Registry) Take(name string, numTokens int64) (time.Duration, error) {
	wait, err := r.Allow(name, numTokens, -1)
	if err != nil {
		return 0, err
	}

	if wait > 0 {
		r.clock.Sleep(wait)
	}

	return wait, nil
}

// TryTake claims a single token from the named bucket if one is available
// right now.
func (r *Registry) TryTake(name string) bool {
	_, err := r.Allow(name, 1, 0)
	return err == nil
}

// TokenCount reports how many whole tokens the named bucket holds. It is an
// observation only: nothing is claimed, and unknown names do not create
// dynamic buckets.
func (r *Registry) TokenCount(name string) (int64, error) {
	if !r.running() {
		return 0, newError("Registry is not running", ER_NOT_RUNNING)
	}

	r.RLock()
	b := r.buckets[name]
	r.RUnlock()

	if b == nil {
		return 0, newError("No such bucket "+name, ER_NO_SUCH_BUCKET)
	}

	return b.tokenCount(), nil
}

// findBucket locates a bucket for the given name: an existing bucket wins,
// then creation from static config or the dynamic bucket template, then the
// default bucket. Returns nil if all of that fails. Thread-safe; may lazily
// create dynamic buckets or re-create statically defined buckets that have
// been reaped.
func (r *Registry) findBucket(name string) (*ownedBucket, error) {
	r.RLock()
	b := r.buckets[name]
	defaultBucket := r.defaultBucket
	r.RUnlock()

	reportActivity := true

	if b == nil {
		if r.cfg.Buckets[name] != nil || r.cfg.DynamicBucketTemplate != nil {
			// Double-checked locking is safe in Golang, since acquiring locks
			// (read or write) aligns memory the same way volatile does in Java.
			r.Lock()
			defer r.Unlock()

			if r.currentStatus != lifecycle.Started {
				return nil, newError("Registry is not running", ER_NOT_RUNNING)
			}

			// Check if an instance has been created concurrently.
			b = r.buckets[name]
			if b == nil {
				reportActivity = false // createBucketLocked reports activity
				var err error
				b, err = r.createBucketLocked(name)
				if err != nil {
					return nil, err
				}
			}
		} else {
			// Fall back to the default bucket, which may be nil.
			b = defaultBucket
		}
	}

	if b != nil && reportActivity {
		b.ReportActivity()
	}

	return b, nil
}

// createBucketLocked creates a named bucket from its static config if one
// exists, and otherwise a dynamic bucket from the template, subject to
// MaxDynamicBuckets. Callers must hold the write lock.
func (r *Registry) createBucketLocked(name string) (*ownedBucket, error) {
	bCfg := r.cfg.Buckets[name]
	dyn := false

	if bCfg == nil {
		// Dynamic.
		numDynamicBuckets := r.countDynamicBucketsLocked()
		if r.cfg.MaxDynamicBuckets > 0 && numDynamicBuckets >= r.cfg.MaxDynamicBuckets {
			logging.Printf("Bucket %v numDynamicBuckets=%v maxDynamicBuckets=%v. Not creating more dynamic buckets.",
				name, numDynamicBuckets, r.cfg.MaxDynamicBuckets)
			return nil, newError("Cannot create dynamic bucket "+name, ER_TOO_MANY_BUCKETS)
		}

		dyn = true
		bCfg = r.cfg.DynamicBucketTemplate
	}

	b, err := newOwnedBucket(name, bCfg, dyn, r.clock)
	if err != nil {
		return nil, err
	}

	r.buckets[name] = b
	b.ReportActivity()
	r.reaper.watch(b)
	r.Emit(events.NewBucketCreatedEvent(name, dyn))

	return b, nil
}

func (r *Registry) countDynamicBucketsLocked() int {
	c := 0
	for _, b := range r.buckets {
		if b.Dynamic() {
			c++
		}
	}

	return c
}

// removeBucket unpublishes and destroys the named bucket, if present. Called
// by the reaper.
func (r *Registry) removeBucket(name string) {
	r.Lock()
	defer r.Unlock()

	b := r.buckets[name]
	if b != nil {
		delete(r.buckets, name)
		r.Emit(events.NewBucketRemovedEvent(name, b.Dynamic()))
		b.Destroy()
	}
}

// Emit queues an event if a producer is running.
func (r *Registry) Emit(e events.Event) {
	if r.producer != nil {
		r.producer.Emit(e)
	}
}

func (r *Registry) running() bool {
	r.RLock()
	defer r.RUnlock()

	return r.currentStatus == lifecycle.Started
}

// everStarted reports whether Start has ever run. Listeners and the logger
// are frozen from the first start onwards.
func (r *Registry) everStarted() bool {
	r.RLock()
	defer r.RUnlock()

	return r.currentStatus == lifecycle.Started || r.producer != nil
}

func (r *Registry) String() string {
	r.RLock()
	defer r.RUnlock()

	var buffer bytes.Buffer
	buffer.WriteString(fmt.Sprintf("Bucket registry (%v)\n", r.currentStatus))

	if r.defaultBucket != nil {
		buffer.WriteString(fmt.Sprintf(" * Default bucket present: %v\n", r.defaultBucket.tokenCount()))
	}

	sortedNames := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		sortedNames = append(sortedNames, name)
	}

	sort.Strings(sortedNames)

	for _, name := range sortedNames {
		b := r.buckets[name]
		marker := ""
		if b.Dynamic() {
			marker = " (D)"
		}

		buffer.WriteString(fmt.Sprintf(" * %v%v: %v\n", name, marker, b.tokenCount()))
	}

	return buffer.String()
}
