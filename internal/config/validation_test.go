package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/radar-downloader/internal/notify"
)

func validConfig() *Config {
	return &Config{
		Feed:     FeedConfig{URL: DefaultFeedURL, Topic: DefaultFeedTopic, BackoffMinSec: 1, BackoffMaxSec: 30},
		API:      APIConfig{Endpoint: DefaultAPIEndpoint, TimeoutSec: 15, RetryCount: 2},
		Products: []string{"VMI", "SRI"},
		Output:   OutputConfig{Directory: "downloads"},
		Download: DownloadConfig{Workers: 3, QueueSize: 1000},
		Logging:  LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidProduct(t *testing.T) {
	cfg := validConfig()
	cfg.Products = []string{"VMI", "BAD-ONE"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid product")
	}
	if !strings.Contains(err.Error(), "BAD-ONE") {
		t.Errorf("error should mention invalid product, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Products = nil
	cfg.Feed.URL = "http://feed"
	cfg.Download.Workers = 0
	cfg.Feed.BackoffMaxSec = 0
	cfg.Logging.Level = "verbose"
	cfg.Notify = notify.Config{Enabled: true, Priority: "default"}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Problems) != 6 {
		t.Errorf("expected 6 problems, got %d:\n%s", len(verrs.Problems), err)
	}

	msg := err.Error()
	for _, want := range []string{"feed.url", "download.workers", "backoff_max_sec", "logging.level", "notify.topic"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s, got:\n%s", want, msg)
		}
	}
}

func TestNormalizeProducts(t *testing.T) {
	got := NormalizeProducts([]string{"vmi,sri", " TEMP ", "", "Vmi"})
	want := []string{"VMI", "SRI", "TEMP"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
