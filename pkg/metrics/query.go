package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// BackendStats represents aggregated run metrics for one backend, as scraped
// into a Prometheus server from long-lived deployments.
type BackendStats struct {
	Backend        string  `json:"backend"`
	Runs           int64   `json:"runs"`
	Satisfied      int64   `json:"satisfied"`
	Failed         int64   `json:"failed"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

// QueryService provides methods to query run metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetBackendStats retrieves aggregated run counts and durations for a backend.
func (q *QueryService) GetBackendStats(ctx context.Context, backend string) (*BackendStats, error) {
	stats := &BackendStats{Backend: backend}

	runs, err := q.queryScalar(ctx, fmt.Sprintf(`sum(hand_runs_total{backend=%q})`, backend))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	stats.Runs = int64(runs)

	satisfied, err := q.queryScalar(ctx, fmt.Sprintf(`sum(hand_runs_total{backend=%q, outcome="satisfied"})`, backend))
	if err != nil {
		return nil, fmt.Errorf("failed to query satisfied runs: %w", err)
	}
	stats.Satisfied = int64(satisfied)

	failed, err := q.queryScalar(ctx, fmt.Sprintf(`sum(hand_runs_total{backend=%q, outcome="failed"})`, backend))
	if err != nil {
		return nil, fmt.Errorf("failed to query failed runs: %w", err)
	}
	stats.Failed = int64(failed)

	avgQuery := fmt.Sprintf(
		`sum(hand_run_duration_seconds_sum{backend=%q}) / sum(hand_run_duration_seconds_count{backend=%q})`,
		backend, backend)
	if v, err := q.queryScalar(ctx, avgQuery); err == nil {
		stats.AvgDurationSec = v
	}

	return stats, nil
}

// ListBackends returns the backends present in the scraped metrics.
func (q *QueryService) ListBackends(ctx context.Context) ([]string, error) {
	result, _, err := q.queryAPI.Query(ctx, `group by (backend) (hand_runs_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query backends: %w", err)
	}

	var backends []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["backend"]; ok {
				backends = append(backends, string(name))
			}
		}
	}
	return backends, nil
}

// queryScalar runs an instant query and returns the first sample value.
func (q *QueryService) queryScalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
