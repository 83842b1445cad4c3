package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"es2os/internal/timeutil"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"
)

const healthTimeout = 10 * time.Second

// OpenSearchClient implements Client against an OpenSearch/Elasticsearch cluster
type OpenSearchClient struct {
	endpoint string
	es       *opensearch.Client
	logger   *zap.Logger
}

// NewOpenSearchClient creates a cluster client and verifies connectivity
func NewOpenSearchClient(ctx context.Context, cfg Config, logger *zap.Logger) (*OpenSearchClient, error) {
	osCfg := opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.Insecure {
		osCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	es, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Endpoint, err)
	}

	c := &OpenSearchClient{
		endpoint: cfg.Endpoint,
		es:       es,
		logger:   logger,
	}

	// Fail fast on an unreachable or red cluster
	if err := c.Health(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Health checks cluster health and fails on unreachable or red status
func (c *OpenSearchClient) Health(ctx context.Context) error {
	req := opensearchapi.ClusterHealthRequest{
		Timeout: healthTimeout,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("unable to connect to cluster %s: %w", c.endpoint, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("cluster %s health request failed: %s", c.endpoint, res.Status())
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response from %s: %w", c.endpoint, err)
	}

	if health.Status == "red" {
		return fmt.Errorf("cluster %s status abnormal: %s", c.endpoint, health.Status)
	}

	c.logger.Debug("Cluster health check passed",
		zap.String("endpoint", c.endpoint),
		zap.String("status", health.Status),
	)
	return nil
}

// LatestTimestamp returns the newest value of field across matching documents
func (c *OpenSearchClient) LatestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error) {
	return c.boundaryTimestamp(ctx, field, index, "desc")
}

// EarliestTimestamp returns the oldest value of field across matching documents
func (c *OpenSearchClient) EarliestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error) {
	return c.boundaryTimestamp(ctx, field, index, "asc")
}

func (c *OpenSearchClient) boundaryTimestamp(ctx context.Context, field, index, order string) (time.Time, bool, error) {
	if err := c.Health(ctx); err != nil {
		return time.Time{}, false, err
	}

	body, err := json.Marshal(map[string]any{
		"size": 1,
		"sort": []map[string]any{
			{field: map[string]string{"order": order}},
		},
		"query": map[string]any{
			"exists": map[string]string{"field": field},
		},
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to build timestamp query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("timestamp query against %s failed: %w", c.endpoint, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return time.Time{}, false, fmt.Errorf("timestamp query against %s failed: %s", c.endpoint, res.Status())
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Source map[string]json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(sr.Hits.Hits) == 0 {
		return time.Time{}, false, nil
	}

	raw, ok := sr.Hits.Hits[0].Source[field]
	if !ok {
		return time.Time{}, false, nil
	}

	t, err := decodeFieldTimestamp(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("document field %s: %w", field, err)
	}
	return t, true, nil
}

// SnapshotStartTime returns the start time of the most recently started
// snapshot in repository. Failures are swallowed: the caller falls back
// to the next start-time source.
func (c *OpenSearchClient) SnapshotStartTime(ctx context.Context, repository string) (time.Time, bool) {
	req := opensearchapi.SnapshotGetRequest{
		Repository: repository,
		Snapshot:   []string{"_all"},
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		c.logger.Warn("Failed to get snapshot time", zap.String("repository", repository), zap.Error(err))
		return time.Time{}, false
	}
	defer res.Body.Close()

	if res.IsError() {
		c.logger.Warn("Failed to get snapshot time",
			zap.String("repository", repository),
			zap.String("status", res.Status()),
		)
		return time.Time{}, false
	}

	var sr struct {
		Snapshots []struct {
			Snapshot          string `json:"snapshot"`
			StartTimeInMillis int64  `json:"start_time_in_millis"`
		} `json:"snapshots"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		c.logger.Warn("Failed to decode snapshot response", zap.String("repository", repository), zap.Error(err))
		return time.Time{}, false
	}

	if len(sr.Snapshots) == 0 {
		return time.Time{}, false
	}

	latest := sr.Snapshots[0]
	for _, s := range sr.Snapshots[1:] {
		if s.StartTimeInMillis > latest.StartTimeInMillis {
			latest = s
		}
	}

	return timeutil.FromMillis(latest.StartTimeInMillis), true
}

// decodeFieldTimestamp accepts the two shapes the timestamp field takes
// in documents: an ISO-8601 string or epoch milliseconds.
func decodeFieldTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return timeutil.Parse(s)
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return timeutil.FromMillis(ms), nil
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp value: %s", string(raw))
}
