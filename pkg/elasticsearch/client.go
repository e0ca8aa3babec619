// Package elasticsearch is a minimal client for indexing analyzed-call
// documents. It covers exactly what the embedding stage needs: one
// idempotent PUT per document, round-robin across configured addresses,
// optional basic auth. Failures are classified transient or permanent
// so the stage worker's retry protocol applies unchanged.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/version"
)

// Client indexes documents over the Elasticsearch HTTP API.
type Client struct {
	addresses []string
	http      *http.Client
	auth      *basicAuth
	mu        sync.Mutex
	idx       int
}

type basicAuth struct {
	username string
	password string
}

// NewClient creates a client from the indexing configuration.
func NewClient(cfg config.ElasticsearchConfig) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch requires at least one address")
	}

	addresses := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		trimmed := strings.TrimSpace(addr)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			trimmed = "http://" + trimmed
		}
		if _, err := url.Parse(trimmed); err != nil {
			return nil, errors.Wrap(err, "invalid elasticsearch address",
				map[string]interface{}{"address": addr})
		}
		addresses = append(addresses, trimmed)
	}

	if len(addresses) == 0 {
		return nil, errors.New("no valid elasticsearch addresses configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		addresses: addresses,
		http:      &http.Client{Timeout: timeout},
	}
	if cfg.Username != "" {
		client.auth = &basicAuth{username: cfg.Username, password: cfg.Password}
	}

	return client, nil
}

// IndexDocument writes a document with PUT so re-delivery of the same
// task overwrites rather than duplicates.
func (c *Client) IndexDocument(ctx context.Context, index, id string, body interface{}) error {
	if strings.TrimSpace(index) == "" {
		return errors.NewInvalidInput("elasticsearch index is required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.NewInvalidInput("elasticsearch document id is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.WrapPermanent(err, "failed to marshal elasticsearch document")
	}

	addr := c.nextAddress()
	endpoint := fmt.Sprintf("%s/%s/_doc/%s", addr, strings.TrimPrefix(index, "/"), id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.WrapPermanent(err, "failed to build elasticsearch request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.auth != nil {
		req.SetBasicAuth(c.auth.username, c.auth.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "elasticsearch request failed",
			map[string]interface{}{"address": addr})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fields := map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        string(snippet),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errors.Transient("elasticsearch indexing returned a retryable status", fields)
		}
		// Mapping conflicts and malformed documents fail identically on
		// every retry.
		return errors.Permanent("elasticsearch rejected the document", fields)
	}

	return nil
}

// nextAddress rotates through the configured addresses.
func (c *Client) nextAddress() string {
	c.mu.Lock()
	addr := c.addresses[c.idx%len(c.addresses)]
	c.idx++
	c.mu.Unlock()
	return addr
}
