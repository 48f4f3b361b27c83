package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
)

type fakeChannel struct {
	name     string
	len, cap int
}

func (f fakeChannel) Name() string { return f.name }
func (f fakeChannel) Len() int     { return f.len }
func (f fakeChannel) Cap() int     { return f.cap }

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                      "0.0.0.0:8081",
		"  :9090  ":             "0.0.0.0:9090",
		"localhost":             "localhost:8081",
		"[::1]:443":             "[::1]:443",
		"::1":                   "[::1]:8081",
		"*:8080":                "0.0.0.0:8080",
		"http://10.0.0.5:8080":  "10.0.0.5:8080",
		"https://status.local/": "status.local:8081",
		"tcp://localhost:5050":  "localhost:5050",
	}
	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRingKeepsLatest(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.add(i)
	}
	got := r.snapshot()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected ring contents %v", got)
	}
}

func TestLogStoreCapturesWarnings(t *testing.T) {
	s := newLogStore(10)
	entry := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
		"component": "subscriber",
		"exchange":  "okx",
		"error":     errors.New("handshake timed out"),
	})
	entry.Level = logrus.WarnLevel
	entry.Message = "subscription handshake failed"
	if err := s.Fire(entry); err != nil {
		t.Fatalf("fire: %v", err)
	}
	logs := s.snapshot()
	if len(logs) != 1 || logs[0].Component != "subscriber" || logs[0].Fields["error"] != "handshake timed out" {
		t.Fatalf("unexpected records %+v", logs)
	}

	s.close()
	s.Fire(entry)
	if len(s.snapshot()) != 1 {
		t.Fatalf("closed store should ignore entries")
	}
}

func TestResourceSampler(t *testing.T) {
	origCPU, origMem := cpuPercentFn, memoryStatsFn
	t.Cleanup(func() { cpuPercentFn, memoryStatsFn = origCPU, origMem })
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
	}

	sampler := newResourceSampler(5, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	sampler.start(ctx)

	deadline := time.Now().Add(time.Second)
	for len(sampler.samples.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sampler collected nothing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	sampler.wait()

	got := sampler.samples.snapshot()[0]
	if got.CPUPercent != 42.5 || got.MemoryPct != 50 || got.Goroutines == 0 {
		t.Fatalf("unexpected sample %+v", got)
	}
}

func TestRoutes(t *testing.T) {
	srv := NewServer(config.StatusConfig{Enabled: true, Address: ":0", History: 10}, logger.Logger(), []metrics.SizedChannel{
		fakeChannel{name: "okx_public_trades", len: 3},
		fakeChannel{name: "coinbase_public_trades", len: 1, cap: 64},
	})
	defer srv.cleanup()
	router := srv.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Streams []channelStatus `json:"streams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Streams) != 2 || !body.Streams[0].Unbounded || body.Streams[1].Capacity != 64 {
		t.Fatalf("unexpected streams %+v", body.Streams)
	}

	srv.metrics.handle(metrics.Metric{Name: "stream_items_dropped", Value: 1, Timestamp: time.Now()})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rec.Code != http.StatusOK || !json.Valid(rec.Body.Bytes()) {
		t.Fatalf("metrics route failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestDisabledServerIsNil(t *testing.T) {
	srv := NewServer(config.StatusConfig{}, logger.Logger(), nil)
	if srv != nil {
		t.Fatalf("expected nil server")
	}
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("nil server run: %v", err)
	}
}
