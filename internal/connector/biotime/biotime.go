// Package biotime implements the BioTime REST source: a windowed,
// paginated fetch of punch transactions from the vendor's
// /iclock/api/transactions/ endpoint.
package biotime

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deliverydevs/punchsync/internal/connector/http"
	"github.com/deliverydevs/punchsync/internal/punch"
)

const (
	transactionsPath = "/iclock/api/transactions/"

	// maxPages bounds pathological pagination loops. Hitting the cap
	// is a safety valve, not an error: whatever was accumulated is
	// returned.
	maxPages = 100
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the connection settings for a BioTime server.
type Config struct {
	ServerIP   string
	ServerPort int
	Token      string

	// Timeout for individual requests (default: 30s).
	Timeout time.Duration

	// RateLimit requests per second (default: 10).
	RateLimit float64

	// Transport allows injecting a custom HTTP transport (for tests).
	Transport nethttp.RoundTripper

	// Log receives fetch progress. Defaults to the standard logger.
	Log *logrus.Logger
}

// Validate checks that the config can address a server.
func (c *Config) Validate() error {
	if c.ServerIP == "" {
		return fmt.Errorf("server IP is required")
	}
	if c.ServerPort <= 0 {
		return fmt.Errorf("server port is required")
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client fetches punch transactions from a BioTime server.
type Client struct {
	http *http.Client
	log  *logrus.Logger
}

// New creates a BioTime client for the given configuration.
func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpConfig := http.DefaultClientConfig()
	httpConfig.BaseURL = BuildBaseURL(config.ServerIP, config.ServerPort)
	httpConfig.Auth = http.BearerToken{Token: config.Token}
	httpConfig.Headers["Content-Type"] = "application/json"
	if config.Timeout > 0 {
		httpConfig.Timeout = config.Timeout
	}
	if config.RateLimit > 0 {
		httpConfig.RateLimit = config.RateLimit
	}
	httpConfig.Transport = config.Transport

	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		http: http.NewClient(httpConfig),
		log:  log,
	}, nil
}

// FetchTransactions retrieves all punch transactions in the inclusive
// window [start, end], following server-supplied `next` links.
//
// The partial-result policy applies: a request failure aborts further
// pagination, but the records accumulated so far are returned
// alongside the error.
func (c *Client) FetchTransactions(ctx context.Context, start, end time.Time) ([]punch.Raw, error) {
	query := url.Values{}
	query.Set("start_time", punch.FormatTime(start))
	query.Set("end_time", punch.FormatTime(end))

	var all []punch.Raw
	nextURL := ""

	for page := 0; page < maxPages; page++ {
		var resp *http.Response
		var err error
		if page == 0 {
			resp, err = c.http.Get(ctx, transactionsPath, query)
		} else {
			resp, err = c.http.GetURL(ctx, nextURL)
		}
		if err != nil {
			return all, fmt.Errorf("fetch transactions page %d: %w", page+1, err)
		}

		records, next, err := decodeEnvelope(resp.Body)
		if err != nil {
			return all, fmt.Errorf("decode transactions page %d: %w", page+1, err)
		}
		all = append(all, records...)

		if next == "" {
			break
		}
		nextURL = next

		if page > 0 {
			c.log.WithFields(logrus.Fields{
				"page":  page + 1,
				"total": len(all),
			}).Info("biotime pagination progress")
		}
	}

	if len(all) > 0 {
		c.log.WithField("count", len(all)).Info("biotime fetch completed")
	}

	return all, nil
}

// =============================================================================
// RESPONSE ENVELOPES
// =============================================================================

// decodeEnvelope normalizes the server's response shapes into a flat
// record list plus the next-page URL. Known shapes are an object with
// a "data", "results", or "transactions" key, or a bare list; an
// unknown object shape decodes to an empty page.
func decodeEnvelope(body []byte) ([]punch.Raw, string, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", err
	}

	switch v := payload.(type) {
	case map[string]any:
		next, _ := v["next"].(string)
		for _, key := range []string{"data", "results", "transactions"} {
			if items, ok := v[key].([]any); ok {
				return toRecords(items), next, nil
			}
		}
		return nil, next, nil
	case []any:
		return toRecords(v), "", nil
	default:
		return nil, "", nil
	}
}

func toRecords(items []any) []punch.Raw {
	records := make([]punch.Raw, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}
