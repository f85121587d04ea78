// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

// Package stats consumes bucket events and aggregates per-bucket activity.
package stats

import (
	"fmt"

	"github.com/square/tokenbucket/events"
)

// Listener is an interface for consuming and retrieving bucket hits, misses
// and timeouts.
type Listener interface {
	TopHits() []*BucketScore
	TopMisses() []*BucketScore
	Get(bucket string) *BucketScores
	HandleEvent(events.Event)
}

// BucketScores stores a specific bucket's stats on hits, misses and
// timed-out waits.
type BucketScores struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Timeouts int64 `json:"timeouts"`
}

// BucketScore stores a specific bucket's stats. Used for top-lists.
type BucketScore struct {
	Bucket string `json:"bucket"`
	Score  int64  `json:"value"`
}

func (b *BucketScore) String() string {
	return fmt.Sprintf("{%s, %d}", b.Bucket, b.Score)
}

// BucketScoreArray implements a sortable BucketScore array
type BucketScoreArray []*BucketScore

func (b BucketScoreArray) Len() int {
	return len(b)
}

func (b BucketScoreArray) Less(i, j int) bool {
	return b[i].Score > b[j].Score
}

func (b BucketScoreArray) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}
