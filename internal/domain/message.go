package domain

// BandwidthSample is the canonical form of one link-probe window after
// boundary normalization. Window timestamps are Unix seconds.
type BandwidthSample struct {
	Hostname    string
	Interface   string
	WindowStart float64
	WindowEnd   float64
	MaxBPS      float64
	AvgBPS      float64
	SampleCount int
}

// IntegrityCheck is the canonical form of one check-probe result after
// boundary normalization. Hostname and Interface are optional feed
// defaults; the remaining identity fields may be empty.
type IntegrityCheck struct {
	Type      string
	Exchange  string
	Symbol    string
	Stage     string
	Status    string
	Detail    string
	Timestamp float64
	Hostname  string
	Interface string
	Results   []IntegrityResult
}
