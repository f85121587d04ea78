// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

// tokenbucket-demo drains tokens from a bucket registry at the configured
// rate, and reports what the registry did. Useful for eyeballing pacing
// behavior and for scraping metrics off a live registry.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/square/tokenbucket"
	"github.com/square/tokenbucket/config"
	"github.com/square/tokenbucket/events"
	"github.com/square/tokenbucket/logging"
	"github.com/square/tokenbucket/stats"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app      = kingpin.New("tokenbucket-demo", "Drains a token bucket registry and reports on it.")
	cfgFile  = app.Flag("config", "YAML bucket configuration. A built-in demo config is used when omitted.").String()
	metrics  = app.Flag("metrics", "TCP endpoint to serve Prometheus metrics on. Disabled when empty.").Default("").String()
	bucket   = app.Flag("bucket", "Bucket to draw tokens from.").Default("demo").String()
	numTakes = app.Flag("takes", "Number of tokens to take before exiting. 0 runs until interrupted.").Default("50").Int64()
	verbose  = app.Flag("verbose", "Log every take and every bucket event.").Bool()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetLogger(logrus.New())

	cfg := demoConfig()
	if *cfgFile != "" {
		var err error
		if cfg, err = config.FromFile(*cfgFile); err != nil {
			logging.Fatalf("Cannot load config %v: %v", *cfgFile, err)
		}
	}

	reg, err := tokenbucket.NewRegistry(cfg, config.NewReaperConfig())
	if err != nil {
		logging.Fatalf("Cannot create registry: %v", err)
	}

	statsListener := stats.NewMemoryStatsListener()
	reg.SetStatsListener(statsListener)

	var promListener *stats.PrometheusListener
	if *metrics != "" {
		promListener = stats.NewPrometheusListener(prometheus.DefaultRegisterer)
		sm := http.NewServeMux()
		sm.Handle("/metrics", promhttp.Handler())
		go func() { _ = http.ListenAndServe(*metrics, sm) }()
		logging.Printf("Serving Prometheus metrics on http://%v/metrics", *metrics)
	}

	reg.SetListener(func(e events.Event) {
		if promListener != nil {
			promListener.HandleEvent(e)
		}
		if *verbose {
			logging.Printf("Event: %v", e)
		}
	}, 4096)

	if err := reg.Start(); err != nil {
		logging.Fatalf("Cannot start registry: %v", err)
	}

	// Drain tokens in the background so main can watch for signals.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		drain(reg, stop)
	}()

	// Block until SIGTERM, SIGINT or the drain finishing.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigs:
		close(stop)
		<-done
	case <-done:
	}

	report(reg, statsListener)
	reg.Stop()
}

func drain(reg *tokenbucket.Registry, stop chan struct{}) {
	for i := int64(1); *numTakes == 0 || i <= *numTakes; i++ {
		select {
		case <-stop:
			return
		default:
		}

		wait, err := reg.Take(*bucket, 1)
		if err != nil {
			logging.Printf("Stopping drain: %v", err)
			return
		}

		if *verbose {
			banked, _ := reg.TokenCount(*bucket)
			logging.Printf("Take %v from %v waited %v; %v tokens banked", i, *bucket, wait, banked)
		}
	}
}

func report(reg *tokenbucket.Registry, statsListener stats.Listener) {
	logging.Printf("%v", reg)

	scores := statsListener.Get(*bucket)
	logging.Printf("Bucket %v: %v hits, %v misses, %v timeouts",
		*bucket, scores.Hits, scores.Misses, scores.Timeouts)

	for _, hit := range statsListener.TopHits() {
		logging.Printf("Top hits: %v", hit)
	}
}

func demoConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.AddBucket("demo", &config.BucketConfig{
		RefreshIntervalMillis: 100,
		MaxCapacity:           25,
		InitialCapacity:       3,
	})
	cfg.DynamicBucketTemplate = &config.BucketConfig{
		RefreshIntervalMillis: 50,
		MaxCapacity:           10,
		InitialCapacity:       10,
		MaxIdleMillis:         30000,
	}
	cfg.MaxDynamicBuckets = 100
	return cfg
}
