package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PromQL queries against the frontend fleet's own scraped metrics.
const (
	cpuQuery        = `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	p95LatencyQuery = `histogram_quantile(0.95, rate(http_request_duration_seconds_bucket[5m]))`
	errorRateQuery  = `sum(rate(http_requests_total{status_code=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))`
)

// PrometheusSource implements Source against a live Prometheus server.
type PrometheusSource struct {
	client v1.API
}

// NewPrometheusSource dials promURL and wraps it as a Source.
func NewPrometheusSource(promURL string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: promURL})
	if err != nil {
		return nil, fmt.Errorf("health: creating prometheus client: %w", err)
	}
	return &PrometheusSource{client: v1.NewAPI(client)}, nil
}

// FetchSnapshot executes the fleet PromQL queries and assembles a Snapshot.
func (p *PrometheusSource) FetchSnapshot() (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	now := time.Now()

	query := func(expr string) (float64, error) {
		result, _, err := p.client.Query(ctx, expr, now)
		if err != nil {
			return 0, fmt.Errorf("health: prometheus query %q: %w", expr, err)
		}
		if v, ok := result.(model.Vector); ok && len(v) > 0 {
			return float64(v[0].Value), nil
		}
		return 0, nil
	}

	cpu, err := query(cpuQuery)
	if err != nil {
		return Snapshot{}, err
	}
	latencySec, err := query(p95LatencyQuery)
	if err != nil {
		return Snapshot{}, err
	}
	errorRate, err := query(errorRateQuery)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		CPUUtilizationPercent: cpu * 100.0,
		P95LatencyMs:          latencySec * 1000.0,
		ErrorRatePercent:      errorRate * 100.0,
	}, nil
}
