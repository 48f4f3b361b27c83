package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cryptostream/logger"
)

func TestCountersAreExposed(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("okx", "public_trades"))
	IncEvent("okx", "public_trades")
	IncEvent("okx", "public_trades")
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues("okx", "public_trades")); got != before+2 {
		t.Fatalf("events counter = %v, want %v", got, before+2)
	}

	IncResync("binance_spot", "gap")
	IncHandshake("coinbase", "failed")
	ConnectionOpened("coinbase")
	ConnectionClosed("coinbase")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`cryptostream_events_total{exchange="okx",kind="public_trades"}`,
		`cryptostream_resyncs_total{exchange="binance_spot",reason="gap"}`,
		`cryptostream_handshakes_total{exchange="coinbase",result="failed"}`,
		`cryptostream_active_connections{exchange="coinbase"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestEmitDropMetricCountsPerExchange(t *testing.T) {
	before := testutil.ToFloat64(droppedTotal.WithLabelValues("gateio_spot"))
	EmitDropMetric(logger.Logger(), "gateio_spot", "output")
	if got := testutil.ToFloat64(droppedTotal.WithLabelValues("gateio_spot")); got != before+1 {
		t.Fatalf("dropped counter = %v, want %v", got, before+1)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}
}

func TestReportUsedWeight(t *testing.T) {
	handlers.reset()
	events := make(chan Metric, 4)
	id := RegisterMetricHandler(func(m Metric) { events <- m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	binance := http.Header{}
	binance.Set("X-MBX-USED-WEIGHT-1M", "42")
	used, ok := ReportUsedWeight(nil, "binance_spot", binance)
	if !ok || used != 42 {
		t.Fatalf("binance used weight = %v %v", used, ok)
	}

	bybit := http.Header{}
	bybit.Set("X-Bapi-Limit", "600")
	bybit.Set("X-Bapi-Limit-Status", "590")
	used, ok = ReportUsedWeight(nil, "bybit_perpetuals_usd", bybit)
	if !ok || used != 10 {
		t.Fatalf("bybit used weight = %v %v", used, ok)
	}

	if _, ok := ReportUsedWeight(nil, "okx", http.Header{}); ok {
		t.Fatalf("expected no metric without headers")
	}

	for i := 0; i < 2; i++ {
		select {
		case m := <-events:
			if m.Name != "used_weight" {
				t.Fatalf("unexpected metric %s", m.Name)
			}
		case <-time.After(50 * time.Millisecond):
			t.Fatal("used weight metric not dispatched")
		}
	}
}

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		exchange string
		msg      string
		rate     bool
		ban      bool
	}{
		{"binance_spot", "Too many requests", true, false},
		{"okx", "IP has been blocked for 60 seconds", false, true},
		{"bybit_spot", "IP rate limit reached", false, true},
		{"bybit_perpetuals_usd", "too many visits", true, false},
		{"deribit", "too_many_requests", true, false},
		{"coinbase", "GIBBERISH-USD is not a valid product", false, false},
	}
	for _, c := range cases {
		rl, ban := detectLimit(c.exchange, c.msg)
		if rl != c.rate {
			t.Errorf("exchange %s: expected rateLimit %v got %v", c.exchange, c.rate, rl)
		}
		if ban != c.ban {
			t.Errorf("exchange %s: expected ipBan %v got %v", c.exchange, c.ban, ban)
		}
	}
	if ReportLimitFromMessage(nil, "coinbase", "subscribe", "hello world") {
		t.Fatalf("plain message should not be reported")
	}
}

type fakeSized struct{ n int }

func (f fakeSized) Name() string { return "okx" }
func (f fakeSized) Len() int     { return f.n }
func (f fakeSized) Cap() int     { return 0 }

func TestStartChannelSizeMetrics(t *testing.T) {
	handlers.reset()
	events := make(chan Metric, 8)
	id := RegisterMetricHandler(func(m Metric) {
		select {
		case events <- m:
		default:
		}
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		time.Sleep(30 * time.Millisecond)
	})
	StartChannelSizeMetrics(ctx, []SizedChannel{fakeSized{n: 3}}, 5*time.Millisecond)

	select {
	case m := <-events:
		if m.Name != "okx_buffer_length" || m.Value != 3 {
			t.Fatalf("unexpected metric %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("channel size metric not emitted")
	}
}
