// Package ingest decodes raw producer payloads into their canonical
// forms. All boundary normalization happens here; downstream packages
// only ever see Unix-second timestamps and validated fields.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fangwater/mkt-monitor/internal/domain"
)

// ErrMalformed wraps every decode or validation failure so callers can
// map it to a client error.
var ErrMalformed = errors.New("malformed payload")

// millisThreshold: producers disagree on timestamp units. Anything at or
// above 1e12 cannot be a plausible Unix-second value, so it is read as
// milliseconds.
const millisThreshold = 1e12

// NormalizeTimestamp coerces a producer timestamp to Unix seconds.
func NormalizeTimestamp(ts float64) float64 {
	if ts >= millisThreshold {
		return ts / 1000
	}
	return ts
}

type rawBandwidth struct {
	Hostname    string   `json:"hostname"`
	Interface   string   `json:"interface"`
	WindowStart *float64 `json:"window_start"`
	WindowEnd   *float64 `json:"window_end"`
	MaxBPS      float64  `json:"max_bps"`
	AvgBPS      float64  `json:"avg_bps"`
	SampleCount int      `json:"sample_count"`
}

// Bandwidth decodes one probe window payload. The window bounds are
// required and must be properly ordered; rate values pass through
// untouched. Hostname and interface may be empty here, since feeds can
// supply them as defaults afterwards.
func Bandwidth(raw []byte) (domain.BandwidthSample, error) {
	var msg rawBandwidth
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.BandwidthSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.WindowStart == nil || msg.WindowEnd == nil {
		return domain.BandwidthSample{}, fmt.Errorf("%w: window bounds are required", ErrMalformed)
	}
	start := NormalizeTimestamp(*msg.WindowStart)
	end := NormalizeTimestamp(*msg.WindowEnd)
	if end <= start {
		return domain.BandwidthSample{}, fmt.Errorf("%w: window end %v not after start %v", ErrMalformed, end, start)
	}
	return domain.BandwidthSample{
		Hostname:    msg.Hostname,
		Interface:   msg.Interface,
		WindowStart: start,
		WindowEnd:   end,
		MaxBPS:      msg.MaxBPS,
		AvgBPS:      msg.AvgBPS,
		SampleCount: msg.SampleCount,
	}, nil
}

type rawIntegrity struct {
	Type      string         `json:"type"`
	Exchange  string         `json:"exchange"`
	Symbol    string         `json:"symbol"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Detail    string         `json:"detail"`
	Timestamp *float64       `json:"timestamp"`
	Hostname  string         `json:"hostname"`
	Interface string         `json:"interface"`
	Results   []rawSubResult `json:"results"`
}

type rawSubResult struct {
	Symbol    string   `json:"symbol"`
	Status    string   `json:"status"`
	Detail    string   `json:"detail"`
	Timestamp *float64 `json:"timestamp"`
}

// Integrity decodes one check payload. Type, status and timestamp are
// required; identity fields may be absent and are resolved downstream.
// Nested sub-results inherit the parent timestamp when they carry none.
func Integrity(raw []byte) (domain.IntegrityCheck, error) {
	var msg rawIntegrity
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.IntegrityCheck{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return domain.IntegrityCheck{}, fmt.Errorf("%w: type is required", ErrMalformed)
	}
	if msg.Status == "" {
		return domain.IntegrityCheck{}, fmt.Errorf("%w: status is required", ErrMalformed)
	}
	if msg.Timestamp == nil {
		return domain.IntegrityCheck{}, fmt.Errorf("%w: timestamp is required", ErrMalformed)
	}
	check := domain.IntegrityCheck{
		Type:      msg.Type,
		Exchange:  msg.Exchange,
		Symbol:    msg.Symbol,
		Stage:     msg.Stage,
		Status:    msg.Status,
		Detail:    msg.Detail,
		Timestamp: NormalizeTimestamp(*msg.Timestamp),
		Hostname:  msg.Hostname,
		Interface: msg.Interface,
	}
	for _, sub := range msg.Results {
		if sub.Status == "" {
			return domain.IntegrityCheck{}, fmt.Errorf("%w: sub-result status is required", ErrMalformed)
		}
		ts := check.Timestamp
		if sub.Timestamp != nil {
			ts = NormalizeTimestamp(*sub.Timestamp)
		}
		check.Results = append(check.Results, domain.IntegrityResult{
			Symbol:    sub.Symbol,
			Status:    sub.Status,
			OK:        strings.EqualFold(sub.Status, "ok"),
			Detail:    sub.Detail,
			Timestamp: ts,
		})
	}
	return check, nil
}
