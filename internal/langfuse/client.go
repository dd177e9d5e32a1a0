package langfuse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/metrics"
	"go.uber.org/zap"
)

// MaxPageSize is the hard page-size cap of the traces API.
const MaxPageSize = 100

var (
	ErrUnavailable = errors.New("trace_source_unavailable")
	ErrMalformed   = errors.New("trace_source_malformed")
)

// Trace is one observability trace. Cost and token fields arrive in
// several shapes depending on SDK version, so the raw maps are kept and
// interpreted tolerantly downstream.
type Trace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Usage     map[string]any `json:"usage,omitempty"`

	TotalCost      any `json:"totalCost,omitempty"`
	Cost           any `json:"cost,omitempty"`
	TotalCostSnake any `json:"total_cost,omitempty"`
}

// MetadataString returns a metadata value as a string, tolerating numeric
// encodings.
func (t Trace) MetadataString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	switch v := t.Metadata[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

type TraceQuery struct {
	UserID        string
	From          time.Time
	To            time.Time
	Page          int
	Limit         int
	MetadataKey   string
	MetadataValue string
}

type tracePage struct {
	Data []Trace `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		TotalItems int `json:"totalItems"`
		TotalPages int `json:"totalPages"`
	} `json:"meta"`
}

// Source is the read interface the aggregator consumes; tests stub it.
type Source interface {
	ListTraces(ctx context.Context, q TraceQuery) ([]Trace, error)
	ListAllTraces(ctx context.Context, q TraceQuery, maxTraces int) ([]Trace, error)
	Ready(ctx context.Context) error
}

type Client struct {
	baseURL   string
	publicKey string
	secretKey string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:   cfg.LangfuseHost,
		publicKey: cfg.LangfusePublicKey,
		secretKey: cfg.LangfuseSecretKey,
		http:      &http.Client{Timeout: cfg.LangfuseTimeout},
		log:       log.Named("langfuse.client"),
	}
}

// ListTraces fetches one page. Metadata filtering happens client-side;
// the public API has no metadata query params.
func (c *Client) ListTraces(ctx context.Context, q TraceQuery) ([]Trace, error) {
	page, err := c.fetchPage(ctx, q)
	if err != nil {
		return nil, err
	}
	return filterByMetadata(page.Data, q.MetadataKey, q.MetadataValue), nil
}

// ListAllTraces walks pages until the window is exhausted or maxTraces is
// reached.
func (c *Client) ListAllTraces(ctx context.Context, q TraceQuery, maxTraces int) ([]Trace, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	var all []Trace
	for pageNum := 1; ; pageNum++ {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}

		pageQuery := q
		pageQuery.Page = pageNum
		pageQuery.Limit = limit
		page, err := c.fetchPage(ctx, pageQuery)
		if err != nil {
			return nil, err
		}

		all = append(all, filterByMetadata(page.Data, q.MetadataKey, q.MetadataValue)...)
		if maxTraces > 0 && len(all) >= maxTraces {
			c.log.Warn("trace fetch truncated at cap",
				zap.Int("max_traces", maxTraces),
				zap.Int("page", pageNum),
			)
			return all[:maxTraces], nil
		}
		if len(page.Data) < limit {
			return all, nil
		}
	}
}

func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/public/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchPage(ctx context.Context, q TraceQuery) (*tracePage, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	pageNum := q.Page
	if pageNum <= 0 {
		pageNum = 1
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(pageNum))
	params.Set("limit", strconv.Itoa(limit))
	if q.UserID != "" {
		params.Set("userId", q.UserID)
	}
	if !q.From.IsZero() {
		params.Set("fromTimestamp", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		params.Set("toTimestamp", q.To.UTC().Format(time.RFC3339))
	}

	endpoint := c.baseURL + "/api/public/traces?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TraceSourceRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.TraceSourceRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var page tracePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		metrics.TraceSourceRequests.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	metrics.TraceSourceRequests.WithLabelValues("ok").Inc()
	return &page, nil
}

func filterByMetadata(traces []Trace, key, value string) []Trace {
	if key == "" || value == "" {
		return traces
	}
	out := make([]Trace, 0, len(traces))
	for _, t := range traces {
		if t.MetadataString(key) == value {
			out = append(out, t)
		}
	}
	return out
}
