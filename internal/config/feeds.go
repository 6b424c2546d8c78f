package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feed kinds.
const (
	FeedBandwidth = "bandwidth"
	FeedIntegrity = "integrity"
)

// Feed describes one upstream websocket source to subscribe to.
// Hostname and Interface, when set, fill in those fields for payloads
// the feed omits them from.
type Feed struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Kind      string `yaml:"kind"`
	Hostname  string `yaml:"hostname,omitempty"`
	Interface string `yaml:"interface,omitempty"`
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFeeds reads and validates the feeds file. An empty path means no
// upstream feeds are configured and returns nil, nil.
func LoadFeeds(path string) ([]Feed, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	var file feedsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}
	for i, feed := range file.Feeds {
		if feed.Name == "" {
			return nil, fmt.Errorf("feed %d: name is required", i)
		}
		if feed.URL == "" {
			return nil, fmt.Errorf("feed %q: url is required", feed.Name)
		}
		if feed.Kind != FeedBandwidth && feed.Kind != FeedIntegrity {
			return nil, fmt.Errorf("feed %q: unknown kind %q", feed.Name, feed.Kind)
		}
	}
	return file.Feeds, nil
}
