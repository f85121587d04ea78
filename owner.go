// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import (
	"time"

	"github.com/square/tokenbucket/config"
	"github.com/square/tokenbucket/logging"
)

// ownedBucket serializes access to a Bucket. The Bucket is single-owner, and
// the serve goroutine is that owner: callers put a request on the reserves
// channel and listen on the request's response channel for the result. The
// goroutine shuts down when Destroy is called; a request that races Destroy
// reports as not served.
type ownedBucket struct {
	name       string
	cfg        *config.BucketConfig
	dynamic    bool
	bucket     *Bucket
	reserves   chan *reserveReq
	peeks      chan chan int64
	activities chan struct{}
	closer     chan struct{}
}

// reserveReq is a request that you put on the reserves channel for the serve
// goroutine to pick up and process.
type reserveReq struct {
	numTokens int64
	maxWait   time.Duration
	response  chan reserveRsp
}

type reserveRsp struct {
	wait time.Duration
	ok   bool
}

func newOwnedBucket(name string, cfg *config.BucketConfig, dynamic bool, c clock) (*ownedBucket, error) {
	bucket, err := newBucket(cfg.RefreshInterval(), cfg.MaxCapacity, cfg.InitialCapacity, c)
	if err != nil {
		return nil, err
	}

	ob := &ownedBucket{
		name:       name,
		cfg:        cfg,
		dynamic:    dynamic,
		bucket:     bucket,
		reserves:   make(chan *reserveReq),
		peeks:      make(chan chan int64),
		activities: make(chan struct{}, 1),
		closer:     make(chan struct{})}

	go ob.serve()

	return ob, nil
}

// serve owns ob.bucket; nothing else may touch it.
func (ob *ownedBucket) serve() {
	for {
		select {
		case req := <-ob.reserves:
			wait, ok := ob.bucket.reserve(req.numTokens, req.maxWait)
			req.response <- reserveRsp{wait, ok}
		case rsp := <-ob.peeks:
			rsp <- ob.bucket.TokenCount()
		case <-ob.closer:
			logging.Printf("Garbage collecting bucket %v", ob.name)
			return
		}
	}
}

// reserve claims numTokens through the owner goroutine, returning the wait
// the caller must observe before acting on them. Reserved tokens cannot be
// put back.
func (ob *ownedBucket) reserve(numTokens int64, maxWait time.Duration) (time.Duration, bool) {
	rsp := make(chan reserveRsp, 1)

	select {
	case ob.reserves <- &reserveReq{numTokens: numTokens, maxWait: maxWait, response: rsp}:
	case <-ob.closer:
		return 0, false
	}

	r := <-rsp
	return r.wait, r.ok
}

// tokenCount reads the bucket's current token count through the owner
// goroutine.
func (ob *ownedBucket) tokenCount() int64 {
	rsp := make(chan int64, 1)

	select {
	case ob.peeks <- rsp:
	case <-ob.closer:
		return 0
	}

	return <-rsp
}

// ReportActivity marks the bucket as recently used, for the reaper. It never
// blocks.
func (ob *ownedBucket) ReportActivity() {
	select {
	case ob.activities <- struct{}{}:
	// reported activity
	default:
		// Already reported
	}
}

func (ob *ownedBucket) Config() *config.BucketConfig {
	return ob.cfg
}

func (ob *ownedBucket) Dynamic() bool {
	return ob.dynamic
}

// Destroy shuts down the serve goroutine. Destroy must be called at most
// once; the registry only destroys buckets it has unpublished.
func (ob *ownedBucket) Destroy() {
	close(ob.closer)
}
