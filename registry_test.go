// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import (
	"strings"
	"testing"
	"time"

	"github.com/square/tokenbucket/config"
	"github.com/square/tokenbucket/events"
	"github.com/square/tokenbucket/stats"
	"github.com/square/tokenbucket/test/helpers"
)

func pacerConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.AddBucket("pacer", &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           10,
		InitialCapacity:       10,
		MaxTokensPerRequest:   5})
	cfg.AddBucket("strict", &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           10,
		WaitTimeoutMillis:     50})
	cfg.AddBucket("patient", &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           10,
		WaitTimeoutMillis:     1000})
	return cfg
}

func startRegistry(t *testing.T, cfg *config.Config, c clock) (*Registry, chan events.Event) {
	reg, err := NewRegistry(cfg, config.NewReaperConfigForTests())
	helpers.CheckError(t, err)

	eventsOut := make(chan events.Event, 100)
	reg.SetListener(func(e events.Event) { eventsOut <- e }, 100)

	if c != nil {
		reg.clock = c
	}

	helpers.CheckError(t, reg.Start())
	return reg, eventsOut
}

func nextEvent(t *testing.T, ch chan events.Event) events.Event {
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
		return nil
	}
}

func checkEvent(t *testing.T, e events.Event, eventType events.EventType, name string, dynamic bool, numTokens int64) {
	if e.EventType() != eventType {
		t.Fatalf("Expecting event type %v. Was %v", eventType, e)
	}

	if e.BucketName() != name {
		t.Fatalf("Expecting event for bucket %v. Was %v", name, e)
	}

	if e.Dynamic() != dynamic {
		t.Fatalf("Expecting event with dynamic=%v. Was %v", dynamic, e)
	}

	if e.NumTokens() != numTokens {
		t.Fatalf("Expecting event with numTokens=%v. Was %v", numTokens, e)
	}
}

func TestAllowServesFromStaticBucket(t *testing.T) {
	reg, eventsOut := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	wait, err := reg.Allow("pacer", 1, 0)
	helpers.CheckError(t, err)
	if wait != 0 {
		t.Fatalf("Expecting 0 wait for a seeded token. Was %v", wait)
	}

	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOKENS_SERVED, "pacer", false, 1)

	n, err := reg.TokenCount("pacer")
	helpers.CheckError(t, err)
	if n != 9 {
		t.Fatalf("Expecting 9 tokens left. Was %v", n)
	}
}

func TestAllowReturnsWaitWithoutSleeping(t *testing.T) {
	c := newManualClock()
	reg, _ := startRegistry(t, pacerConfig(), c)
	defer reg.Stop()

	// Drain the bucket, then claim one more with room to wait.
	_, err := reg.Allow("pacer", 5, 0)
	helpers.CheckError(t, err)
	_, err = reg.Allow("pacer", 5, 0)
	helpers.CheckError(t, err)

	wait, err := reg.Allow("pacer", 1, time.Second)
	helpers.CheckError(t, err)
	if wait != 100*time.Millisecond {
		t.Fatalf("Expecting a 100ms wait. Was %v", wait)
	}

	if len(c.slept) != 0 {
		t.Fatalf("Expecting Allow not to sleep. Was %v", c.slept)
	}
}

func TestAllowTimesOut(t *testing.T) {
	reg, eventsOut := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	if _, err := reg.Allow("strict", 1, 10*time.Millisecond); !IsReason(err, ER_TIMED_OUT_WAITING) {
		t.Fatalf("Expecting ER_TIMED_OUT_WAITING. Was %v", err)
	}

	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TIMEOUT_SERVING_TOKENS, "strict", false, 1)

	// The rejected claim left the bucket untouched.
	wait, err := reg.Allow("strict", 1, time.Second)
	helpers.CheckError(t, err)
	if wait != 100*time.Millisecond {
		t.Fatalf("Expecting the full 100ms wait. Was %v", wait)
	}
}

func TestAllowUsesConfiguredWaitTimeout(t *testing.T) {
	reg, _ := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	// "strict" allows 50ms of waiting; the first token needs 100ms.
	if _, err := reg.Allow("strict", 1, -1); !IsReason(err, ER_TIMED_OUT_WAITING) {
		t.Fatalf("Expecting ER_TIMED_OUT_WAITING. Was %v", err)
	}

	// "patient" allows a full second.
	wait, err := reg.Allow("patient", 1, -1)
	helpers.CheckError(t, err)
	if wait != 100*time.Millisecond {
		t.Fatalf("Expecting a 100ms wait. Was %v", wait)
	}
}

func TestAllowRejectsTooManyTokens(t *testing.T) {
	reg, eventsOut := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	if _, err := reg.Allow("pacer", 6, 0); !IsReason(err, ER_TOO_MANY_TOKENS_REQUESTED) {
		t.Fatalf("Expecting ER_TOO_MANY_TOKENS_REQUESTED. Was %v", err)
	}

	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOO_MANY_TOKENS_REQUESTED, "pacer", false, 6)

	n, err := reg.TokenCount("pacer")
	helpers.CheckError(t, err)
	if n != 10 {
		t.Fatalf("Expecting the rejected request to take nothing. Was %v", n)
	}
}

func TestAllowPanicsOnNonPositiveTokens(t *testing.T) {
	reg, _ := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	helpers.ExpectingPanic(t, func() {
		_, _ = reg.Allow("pacer", 0, 0)
	})
}

func TestAllowFallsBackToDefaultBucket(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DefaultBucket = &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           10,
		InitialCapacity:       10}

	reg, eventsOut := startRegistry(t, cfg, newManualClock())
	defer reg.Stop()

	_, err := reg.Allow("anything", 5, 0)
	helpers.CheckError(t, err)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOKENS_SERVED, "anything", false, 5)

	// A different name lands in the same bucket.
	_, err = reg.Allow("something-else", 5, 0)
	helpers.CheckError(t, err)

	if _, err := reg.Allow("third", 1, 0); !IsReason(err, ER_TIMED_OUT_WAITING) {
		t.Fatalf("Expecting the shared default bucket to be drained. Was %v", err)
	}
}

func TestAllowMissesWithoutDefaultOrTemplate(t *testing.T) {
	reg, eventsOut := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	if _, err := reg.Allow("nope", 1, 0); !IsReason(err, ER_NO_SUCH_BUCKET) {
		t.Fatalf("Expecting ER_NO_SUCH_BUCKET. Was %v", err)
	}

	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_BUCKET_MISS, "nope", false, 0)
}

func dynamicConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.DynamicBucketTemplate = &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           5,
		InitialCapacity:       5,
		MaxIdleMillis:         -1}
	cfg.MaxDynamicBuckets = 2
	return cfg
}

func TestDynamicBucketCreation(t *testing.T) {
	reg, eventsOut := startRegistry(t, dynamicConfig(), newManualClock())
	defer reg.Stop()

	_, err := reg.Allow("d1", 1, 0)
	helpers.CheckError(t, err)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_BUCKET_CREATED, "d1", true, 0)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOKENS_SERVED, "d1", true, 1)

	// Reuse does not recreate.
	_, err = reg.Allow("d1", 1, 0)
	helpers.CheckError(t, err)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOKENS_SERVED, "d1", true, 1)

	_, err = reg.Allow("d2", 1, 0)
	helpers.CheckError(t, err)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_BUCKET_CREATED, "d2", true, 0)
	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_TOKENS_SERVED, "d2", true, 1)

	// The cap is 2.
	if _, err := reg.Allow("d3", 1, 0); !IsReason(err, ER_TOO_MANY_BUCKETS) {
		t.Fatalf("Expecting ER_TOO_MANY_BUCKETS. Was %v", err)
	}

	checkEvent(t, nextEvent(t, eventsOut), events.EVENT_BUCKET_MISS, "d3", true, 0)
}

func TestTakeSleepsOutTheWait(t *testing.T) {
	c := newManualClock()
	reg, _ := startRegistry(t, pacerConfig(), c)
	defer reg.Stop()

	// Seeded token: no sleeping.
	wait, err := reg.Take("pacer", 1)
	helpers.CheckError(t, err)
	if wait != 0 || len(c.slept) != 0 {
		t.Fatalf("Expecting an immediate take. Was wait=%v slept=%v", wait, c.slept)
	}

	// Drain, then the next take must sleep one interval.
	_, err = reg.Allow("pacer", 5, 0)
	helpers.CheckError(t, err)
	_, err = reg.Allow("pacer", 4, 0)
	helpers.CheckError(t, err)

	wait, err = reg.Take("pacer", 1)
	helpers.CheckError(t, err)
	if wait != 100*time.Millisecond {
		t.Fatalf("Expecting a 100ms take. Was %v", wait)
	}

	if len(c.slept) != 1 || c.slept[0] != 100*time.Millisecond {
		t.Fatalf("Expecting one 100ms sleep. Was %v", c.slept)
	}
}

func TestTryTake(t *testing.T) {
	cfg := config.NewConfig()
	cfg.AddBucket("single", &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           1,
		InitialCapacity:       1})

	reg, _ := startRegistry(t, cfg, newManualClock())
	defer reg.Stop()

	if !reg.TryTake("single") {
		t.Fatal("Expecting the seeded token")
	}

	if reg.TryTake("single") {
		t.Fatal("Expecting the bucket to be empty")
	}
}

func TestTokenCountDoesNotCreateBuckets(t *testing.T) {
	reg, _ := startRegistry(t, dynamicConfig(), newManualClock())
	defer reg.Stop()

	if _, err := reg.TokenCount("dx"); !IsReason(err, ER_NO_SUCH_BUCKET) {
		t.Fatalf("Expecting ER_NO_SUCH_BUCKET for an unmade dynamic bucket. Was %v", err)
	}

	_, err := reg.Allow("dx", 1, 0)
	helpers.CheckError(t, err)

	n, err := reg.TokenCount("dx")
	helpers.CheckError(t, err)
	if n != 4 {
		t.Fatalf("Expecting 4 tokens. Was %v", n)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg, err := NewRegistry(pacerConfig(), config.NewReaperConfigForTests())
	helpers.CheckError(t, err)
	reg.clock = newManualClock()

	if _, err := reg.Allow("pacer", 1, 0); !IsReason(err, ER_NOT_RUNNING) {
		t.Fatalf("Expecting ER_NOT_RUNNING before Start. Was %v", err)
	}

	if _, err := reg.TokenCount("pacer"); !IsReason(err, ER_NOT_RUNNING) {
		t.Fatalf("Expecting ER_NOT_RUNNING before Start. Was %v", err)
	}

	helpers.CheckError(t, reg.Start())

	if err := reg.Start(); err == nil {
		t.Fatal("Expecting double Start to fail")
	}

	_, err = reg.Allow("pacer", 1, 0)
	helpers.CheckError(t, err)

	reg.Stop()
	reg.Stop() // Stopping twice is a no-op.

	if _, err := reg.Allow("pacer", 1, 0); !IsReason(err, ER_NOT_RUNNING) {
		t.Fatalf("Expecting ER_NOT_RUNNING after Stop. Was %v", err)
	}

	// A stopped registry can be started again, with buckets rebuilt fresh.
	helpers.CheckError(t, reg.Start())
	defer reg.Stop()

	n, err := reg.TokenCount("pacer")
	helpers.CheckError(t, err)
	if n != 10 {
		t.Fatalf("Expecting a fresh bucket after restart. Was %v", n)
	}
}

func TestNewRegistryValidatesConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.AddBucket("bad", &config.BucketConfig{RefreshIntervalMillis: -5})

	if _, err := NewRegistry(cfg, config.NewReaperConfigForTests()); err == nil {
		t.Fatal("Expecting an invalid config to be rejected")
	}
}

func TestStartFailsOnUnseedableBucket(t *testing.T) {
	// Two hours of seeded accrual reaches back past the clock's epoch.
	cfg := config.NewConfig()
	cfg.AddBucket("huge", &config.BucketConfig{
		RefreshIntervalMillis: time.Hour.Milliseconds(),
		MaxCapacity:           2,
		InitialCapacity:       2})

	reg, err := NewRegistry(cfg, config.NewReaperConfigForTests())
	helpers.CheckError(t, err)

	if err := reg.Start(); !IsReason(err, ER_PRE_EPOCH) {
		t.Fatalf("Expecting ER_PRE_EPOCH from Start. Was %v", err)
	}
}

func TestListenersLockedAfterStart(t *testing.T) {
	reg, _ := startRegistry(t, pacerConfig(), newManualClock())
	defer reg.Stop()

	helpers.ExpectingPanic(t, func() {
		reg.SetListener(func(events.Event) {}, 10)
	})

	helpers.ExpectingPanic(t, func() {
		reg.SetStatsListener(stats.NewMemoryStatsListener())
	})
}

func TestListenerBufferMustBePositive(t *testing.T) {
	reg, err := NewRegistry(pacerConfig(), config.NewReaperConfigForTests())
	helpers.CheckError(t, err)

	helpers.ExpectingPanic(t, func() {
		reg.SetListener(func(events.Event) {}, 0)
	})
}

func TestStatsListenerReceivesEvents(t *testing.T) {
	listener := stats.NewMemoryStatsListener()

	reg, err := NewRegistry(pacerConfig(), config.NewReaperConfigForTests())
	helpers.CheckError(t, err)
	reg.SetStatsListener(listener)
	reg.clock = newManualClock()
	helpers.CheckError(t, reg.Start())
	defer reg.Stop()

	_, err = reg.Allow("pacer", 3, 0)
	helpers.CheckError(t, err)

	// Event dispatch is asynchronous.
	deadline := time.Now().Add(5 * time.Second)
	for listener.Get("pacer").Hits != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Expecting 3 hits for pacer. Was %v", listener.Get("pacer"))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRegistryString(t *testing.T) {
	reg, _ := startRegistry(t, dynamicConfig(), newManualClock())
	defer reg.Stop()

	_, err := reg.Allow("zebra", 1, 0)
	helpers.CheckError(t, err)
	_, err = reg.Allow("aardvark", 1, 0)
	helpers.CheckError(t, err)

	s := reg.String()

	if !strings.Contains(s, "Started") {
		t.Fatalf("Expecting the status in %q", s)
	}

	if !strings.Contains(s, "aardvark (D): 4") || !strings.Contains(s, "zebra (D): 4") {
		t.Fatalf("Expecting dynamic buckets with counts in %q", s)
	}

	if strings.Index(s, "aardvark") > strings.Index(s, "zebra") {
		t.Fatalf("Expecting sorted bucket names in %q", s)
	}
}
