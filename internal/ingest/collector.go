package ingest

import (
	"log/slog"

	"github.com/fangwater/mkt-monitor/internal/config"
	"github.com/fangwater/mkt-monitor/internal/domain"
)

// Sink is where decoded messages land. *store.Store satisfies it.
type Sink interface {
	UpsertBandwidth(sample domain.BandwidthSample) bool
	IngestIntegrity(check domain.IntegrityCheck)
}

// Collector routes raw upstream feed payloads to the sink, applying the
// feed's hostname/interface defaults where the payload omits them.
// Malformed payloads are logged and dropped; one bad producer message
// never interrupts a feed.
type Collector struct {
	sink Sink
	log  *slog.Logger
}

func NewCollector(sink Sink, logger *slog.Logger) *Collector {
	return &Collector{sink: sink, log: logger}
}

func (c *Collector) HandleFeed(feed config.Feed, payload []byte) {
	switch feed.Kind {
	case config.FeedBandwidth:
		sample, err := Bandwidth(payload)
		if err != nil {
			c.log.Warn("feed payload dropped",
				slog.String("feed", feed.Name),
				slog.Any("error", err))
			return
		}
		if sample.Hostname == "" {
			sample.Hostname = feed.Hostname
		}
		if sample.Interface == "" {
			sample.Interface = feed.Interface
		}
		if sample.Hostname == "" || sample.Interface == "" {
			c.log.Warn("feed payload without node identity", slog.String("feed", feed.Name))
			return
		}
		c.sink.UpsertBandwidth(sample)
	case config.FeedIntegrity:
		check, err := Integrity(payload)
		if err != nil {
			c.log.Warn("feed payload dropped",
				slog.String("feed", feed.Name),
				slog.Any("error", err))
			return
		}
		if check.Hostname == "" {
			check.Hostname = feed.Hostname
		}
		if check.Interface == "" {
			check.Interface = feed.Interface
		}
		c.sink.IngestIntegrity(check)
	default:
		c.log.Warn("feed with unknown kind", slog.String("feed", feed.Name), slog.String("kind", feed.Kind))
	}
}
