package domain

// NodeKey identifies one monitored link: a host plus the capture interface.
type NodeKey struct {
	Hostname  string `json:"hostname"`
	Interface string `json:"interface"`
}

// String renders the key in the canonical host|iface form used for
// routing and map lookups.
func (k NodeKey) String() string {
	return k.Hostname + "|" + k.Interface
}

// Bucket is a fixed-width time window of aggregated bandwidth statistics
// for one node. Timestamps are Unix seconds. Rate values are stored
// exactly as received; unit conversion is a presentation concern.
type Bucket struct {
	StartTS     float64 `json:"start_ts"`
	EndTS       float64 `json:"end_ts"`
	MaxBPS      float64 `json:"max_bps"`
	AvgBPS      float64 `json:"avg_bps"`
	SampleCount int     `json:"sample_count"`
}
