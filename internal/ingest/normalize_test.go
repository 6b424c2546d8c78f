package ingest

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/fangwater/mkt-monitor/internal/config"
	"github.com/fangwater/mkt-monitor/internal/domain"
)

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1761840300, 1761840300},
		{1761840300.25, 1761840300.25},
		{1761840300000, 1761840300},
		{1761840300123, 1761840300.123},
		{0, 0},
		{999999999999, 999999999999},
	}
	for _, tc := range cases {
		if got := NormalizeTimestamp(tc.in); got != tc.want {
			t.Errorf("NormalizeTimestamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBandwidthDecode(t *testing.T) {
	raw := []byte(`{
		"hostname": "edge-01",
		"interface": "eth0",
		"window_start": 1761840300000,
		"window_end": 1761840305000,
		"max_bps": 126547896,
		"avg_bps": 26021672,
		"sample_count": 50
	}`)
	sample, err := Bandwidth(raw)
	if err != nil {
		t.Fatalf("Bandwidth: %v", err)
	}
	if sample.WindowStart != 1761840300 || sample.WindowEnd != 1761840305 {
		t.Fatalf("window = [%v, %v]", sample.WindowStart, sample.WindowEnd)
	}
	if sample.MaxBPS != 126547896 || sample.AvgBPS != 26021672 {
		t.Fatalf("rates mutated: %+v", sample)
	}
	if sample.SampleCount != 50 {
		t.Fatalf("sample count = %d", sample.SampleCount)
	}
}

func TestBandwidthDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing window", `{"hostname":"a","interface":"eth0","window_end":10}`},
		{"inverted window", `{"hostname":"a","interface":"eth0","window_start":10,"window_end":10}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Bandwidth([]byte(tc.raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestIntegrityDecode(t *testing.T) {
	raw := []byte(`{
		"type": "trade",
		"exchange": "binance-futures",
		"symbol": "DOGEUSDT",
		"status": "gap_detected",
		"detail": "3 missing trade ids",
		"timestamp": 1761840360500
	}`)
	check, err := Integrity(raw)
	if err != nil {
		t.Fatalf("Integrity: %v", err)
	}
	if check.Timestamp != 1761840360.5 {
		t.Fatalf("timestamp = %v", check.Timestamp)
	}
	if check.Exchange != "binance-futures" || check.Symbol != "DOGEUSDT" {
		t.Fatalf("identity fields = %+v", check)
	}
}

func TestIntegrityDecodeNestedResults(t *testing.T) {
	raw := []byte(`{
		"type": "trade_batch",
		"exchange": "okx",
		"status": "partial",
		"timestamp": 1000,
		"results": [
			{"symbol": "BTCUSDT", "status": "ok"},
			{"symbol": "ETHUSDT", "status": "gap", "detail": "seq hole", "timestamp": 998000000000000}
		]
	}`)
	check, err := Integrity(raw)
	if err != nil {
		t.Fatalf("Integrity: %v", err)
	}
	if len(check.Results) != 2 {
		t.Fatalf("results = %+v", check.Results)
	}
	if !check.Results[0].OK || check.Results[0].Timestamp != 1000 {
		t.Fatalf("first sub-result should inherit parent timestamp and be ok: %+v", check.Results[0])
	}
	if check.Results[1].OK || check.Results[1].Timestamp != 998000000000 {
		t.Fatalf("second sub-result = %+v", check.Results[1])
	}
}

func TestIntegrityDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing type", `{"status":"ok","timestamp":1}`},
		{"missing status", `{"type":"trade","timestamp":1}`},
		{"missing timestamp", `{"type":"trade","status":"ok"}`},
		{"sub-result without status", `{"type":"trade_batch","status":"ok","timestamp":1,"results":[{"symbol":"X"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Integrity([]byte(tc.raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

type recordingSink struct {
	samples []domain.BandwidthSample
	checks  []domain.IntegrityCheck
}

func (r *recordingSink) UpsertBandwidth(s domain.BandwidthSample) bool {
	r.samples = append(r.samples, s)
	return true
}

func (r *recordingSink) IngestIntegrity(c domain.IntegrityCheck) {
	r.checks = append(r.checks, c)
}

func TestCollectorAppliesFeedDefaults(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	feed := config.Feed{Name: "edge", Kind: config.FeedBandwidth, Hostname: "edge-01", Interface: "eth0"}

	c.HandleFeed(feed, []byte(`{"window_start":100,"window_end":105,"max_bps":1,"avg_bps":1}`))
	c.HandleFeed(feed, []byte(`{"hostname":"other","interface":"bond0","window_start":105,"window_end":110,"max_bps":1,"avg_bps":1}`))

	if len(sink.samples) != 2 {
		t.Fatalf("samples = %+v", sink.samples)
	}
	if sink.samples[0].Hostname != "edge-01" || sink.samples[0].Interface != "eth0" {
		t.Fatalf("defaults not applied: %+v", sink.samples[0])
	}
	if sink.samples[1].Hostname != "other" || sink.samples[1].Interface != "bond0" {
		t.Fatalf("payload values overridden: %+v", sink.samples[1])
	}
}

func TestCollectorDropsBadPayloads(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.HandleFeed(config.Feed{Name: "edge", Kind: config.FeedBandwidth}, []byte(`garbage`))
	c.HandleFeed(config.Feed{Name: "edge", Kind: config.FeedBandwidth}, []byte(`{"window_start":1,"window_end":2}`))
	c.HandleFeed(config.Feed{Name: "checks", Kind: config.FeedIntegrity}, []byte(`{"type":"trade"}`))
	c.HandleFeed(config.Feed{Name: "odd", Kind: "metrics"}, []byte(`{}`))

	if len(sink.samples) != 0 || len(sink.checks) != 0 {
		t.Fatalf("bad payloads reached the sink: %+v %+v", sink.samples, sink.checks)
	}
}
