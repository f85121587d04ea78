// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package stats

import (
	"sort"
	"sync"

	"github.com/square/tokenbucket/events"
)

type memoryListener struct {
	hits, misses, timeouts map[string]*BucketScore
	sync.RWMutex           // Guards the maps; HandleEvent runs on the event dispatch goroutine.
}

// NewMemoryStatsListener returns a Listener that counts per-bucket activity
// in process memory.
func NewMemoryStatsListener() Listener {
	return &memoryListener{
		hits:     make(map[string]*BucketScore),
		misses:   make(map[string]*BucketScore),
		timeouts: make(map[string]*BucketScore)}
}

func bucketScoreTop10(scoreMap map[string]*BucketScore) []*BucketScore {
	arr := make(BucketScoreArray, 0, len(scoreMap))

	for _, value := range scoreMap {
		arr = append(arr, value)
	}

	sort.Sort(arr)
	length := len(arr)

	if length > 10 {
		length = 10
	}

	return arr[0:length]
}

// TopHits returns a sorted list of the 10 buckets that have been served the
// most tokens.
func (l *memoryListener) TopHits() []*BucketScore {
	l.RLock()
	defer l.RUnlock()

	return bucketScoreTop10(l.hits)
}

// TopMisses returns a sorted list of the 10 names most often requested with
// no bucket to serve them.
func (l *memoryListener) TopMisses() []*BucketScore {
	l.RLock()
	defer l.RUnlock()

	return bucketScoreTop10(l.misses)
}

// Get returns the hits, misses and timeouts recorded for a bucket.
func (l *memoryListener) Get(bucket string) *BucketScores {
	l.RLock()
	defer l.RUnlock()

	scores := &BucketScores{}

	if hits, ok := l.hits[bucket]; ok {
		scores.Hits = hits.Score
	}

	if misses, ok := l.misses[bucket]; ok {
		scores.Misses = misses.Score
	}

	if timeouts, ok := l.timeouts[bucket]; ok {
		scores.Timeouts = timeouts.Score
	}

	return scores
}

// HandleEvent is implemented for stats.Listener.
func (l *memoryListener) HandleEvent(event events.Event) {
	var scoreMap map[string]*BucketScore
	var delta int64 = 1

	l.Lock()
	defer l.Unlock()

	switch event.EventType() {
	case events.EVENT_BUCKET_MISS:
		scoreMap = l.misses
	case events.EVENT_TIMEOUT_SERVING_TOKENS:
		scoreMap = l.timeouts
	case events.EVENT_TOKENS_SERVED:
		delta = event.NumTokens()
		scoreMap = l.hits
	default:
		return
	}

	key := event.BucketName()

	if _, ok := scoreMap[key]; !ok {
		scoreMap[key] = &BucketScore{key, 0}
	}

	scoreMap[key].Score += delta
}
