package domain

// StreamInfo is the resolved identity of one monitored check series.
// A stream is never deleted once seen; its last-known event outlives any
// log eviction.
type StreamInfo struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// IntegrityEvent is one data-integrity check result attributed to a
// stream. Timestamp is Unix seconds.
type IntegrityEvent struct {
	StreamKey string            `json:"stream_key"`
	Timestamp float64           `json:"timestamp"`
	Status    string            `json:"status"`
	OK        bool              `json:"ok"`
	Detail    string            `json:"detail,omitempty"`
	Type      string            `json:"type"`
	Exchange  string            `json:"exchange,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Results   []IntegrityResult `json:"results,omitempty"`
}

// IntegrityResult is a nested per-symbol sub-result carried by batched
// check messages.
type IntegrityResult struct {
	Symbol    string  `json:"symbol,omitempty"`
	Status    string  `json:"status"`
	OK        bool    `json:"ok"`
	Detail    string  `json:"detail,omitempty"`
	Timestamp float64 `json:"timestamp"`
}
