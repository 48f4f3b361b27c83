package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestJSONOutputUsesFieldMap(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("subscriber").WithField("exchange", "okx").Info("handshake complete")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if line["message"] != "handshake complete" || line["component"] != "subscriber" || line["exchange"] != "okx" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp field missing: %v", line)
	}
}

func TestWarnAndErrorAreCountedPerComponent(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("report_test").Warn("w")
	log.WithComponent("report_test").Error("e")
	log.WithComponent("report_test").Error("e")
	RecordChannelMessage("report_test_conn", 42)

	fields := reportFields()
	comps := fields["components"].(map[string]map[string]int64)
	if comps["report_test"]["warns"] != 1 || comps["report_test"]["errors"] != 2 {
		t.Fatalf("unexpected component stats: %v", comps["report_test"])
	}
	chans := fields["channels"].(map[string]map[string]int64)
	if chans["report_test_conn"]["messages"] != 1 || chans["report_test_conn"]["bytes"] != 42 {
		t.Fatalf("unexpected channel stats: %v", chans["report_test_conn"])
	}
}

func TestIsWrapper(t *testing.T) {
	cases := map[string]bool{
		"github.com/sirupsen/logrus.(*Entry).log":     true,
		"cryptostream/logger.(*Entry).Info":           true,
		"runtime.goexit":                              true,
		"cryptostream/reader.(*Subscriber).Subscribe": false,
	}
	for fn, want := range cases {
		if got := isWrapper(fn); got != want {
			t.Fatalf("isWrapper(%q) = %v, want %v", fn, got, want)
		}
	}
}
