package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptostream/models"
)

const minimalConfig = `cryptostream:
  name: "TestApp"
  version: "1.0"
stream:
  handshake_timeout: 2s
exchanges:
  - name: bybit_perpetuals_usd
    batches:
      - subscriptions:
          - { base: BTC, quote: USDT, instrument: perpetual, kind: public_trades }
          - { base: eth, quote: usdt, instrument: perpetual, kind: order_books_l2 }
      - subscriptions:
          - { base: sol, quote: usdt, instrument: perpetual, kind: liquidations }
`

// writeTempConfig creates a configuration file with the given content and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cryptostream.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Cryptostream.Name)
	}
	if cfg.Stream.HandshakeTimeout != 2*time.Second {
		t.Errorf("unexpected handshake timeout: %v", cfg.Stream.HandshakeTimeout)
	}
	if cfg.Metrics.Address != "0.0.0.0:2112" || !cfg.Metrics.UsedWeight {
		t.Errorf("metrics defaults not applied: %+v", cfg.Metrics)
	}
	if cfg.Status.Enabled || cfg.Status.History != 200 || cfg.Status.SampleInterval != 5*time.Second {
		t.Errorf("status defaults not applied: %+v", cfg.Status)
	}
	if cfg.Channels.Buffer != 0 {
		t.Errorf("channels should default to unbounded, got %d", cfg.Channels.Buffer)
	}
}

func TestExchangeSubscriptions(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	batches, err := cfg.Exchanges[0].Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions failed: %v", err)
	}
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("unexpected batch layout: %v", batches)
	}
	first := batches[0][0]
	want := models.NewSubscription(models.BybitPerpetualsUsd, "btc", "usdt", models.Perpetual(), models.SubPublicTrades)
	if first.Exchange != want.Exchange || !first.Instrument.Equal(want.Instrument) || first.Kind != want.Kind {
		t.Fatalf("got %v want %v", first, want)
	}
	if batches[1][0].Kind != models.SubLiquidations {
		t.Fatalf("unexpected kind %s", batches[1][0].Kind)
	}
}

func TestSubscriptionInstrumentKinds(t *testing.T) {
	opt := SubscriptionConfig{
		Base: "btc", Quote: "usd", Instrument: "option", Kind: "public_trades",
		Expiry: "2024-03-29T08:00:00Z",
		Option: OptionSpec{Kind: "call", Strike: 50000},
	}
	sub, err := opt.toSubscription(models.Deribit)
	if err != nil {
		t.Fatalf("option subscription: %v", err)
	}
	if sub.Instrument.Kind.Option == nil || sub.Instrument.Kind.Option.Exercise != models.ExerciseEuropean {
		t.Fatalf("unexpected option kind: %+v", sub.Instrument.Kind)
	}

	fut := SubscriptionConfig{Base: "btc", Quote: "usd", Instrument: "future", Kind: "candles"}
	if _, err := fut.toSubscription(models.Deribit); err == nil {
		t.Fatalf("expected future without expiry to fail")
	}
	bad := SubscriptionConfig{Base: "btc", Quote: "usd", Kind: "funding"}
	if _, err := bad.toSubscription(models.Deribit); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestValidateConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"missing name", func(s string) string { return strings.Replace(s, `name: "TestApp"`, `name: ""`, 1) }, "cryptostream.name"},
		{"unknown exchange", func(s string) string { return strings.Replace(s, "bybit_perpetuals_usd", "mtgox", 1) }, "unsupported exchange"},
		{"negative buffer", func(s string) string { return s + "channels:\n  buffer: -1\n" }, "channels.buffer"},
		{"bad rate limit", func(s string) string {
			return s + "snapshot:\n  rate_limit:\n    okx:\n      requests_per_second: 0\n"
		}, "snapshot.rate_limit.okx"},
		{"kafka without brokers", func(s string) string { return s + "kafka:\n  enabled: true\n  topic: events\n" }, "kafka.brokers"},
		{"status history", func(s string) string { return s + "status:\n  enabled: true\n  history: 0\n" }, "status.history"},
	}
	for _, c := range cases {
		_, err := LoadConfig(writeTempConfig(t, c.mutate(minimalConfig)))
		if err == nil || !strings.Contains(err.Error(), c.wantErr) {
			t.Errorf("%s: expected error containing %q, got %v", c.name, c.wantErr, err)
		}
	}
}

func TestLoadConfigCloudWatchEnvOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	content := minimalConfig + "metrics:\n  cloudwatch:\n    enabled: true\n    region: ap-south-1\n"
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Metrics.CloudWatch.Region != "eu-west-1" {
		t.Fatalf("expected env region override, got %q", cfg.Metrics.CloudWatch.Region)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath(base); got != prod {
		t.Fatalf("ResolvePath = %q, want %q", got, prod)
	}
	t.Setenv("APP_ENV", "staging")
	if got := ResolvePath(base); got != base {
		t.Fatalf("missing staging file should keep base path, got %q", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("staging should be production-like")
	}
}
