package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the server address, e.g. "http://localhost:6334".
	URL    string `split_words:"true" default:"http://localhost:6334"`
	APIKey string `split_words:"true"`
	// CollectionPrefix is prepended to the index names to build collection names.
	CollectionPrefix string `split_words:"true"`
}

// New creates a gRPC Qdrant client from the configured URL.
func (c *Config) New() (*qdrant.Client, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	raw := c.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}
