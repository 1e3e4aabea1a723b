package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the executor registry to a Prometheus Pushgateway. An empty URL is a no-op.
func Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	url := strings.TrimSpace(gatewayURL)
	if url == "" {
		return nil
	}
	if strings.TrimSpace(job) == "" {
		job = "rebalance_executor"
	}
	pusher := push.New(url, job).Gatherer(Registry())
	for name, value := range grouping {
		if strings.TrimSpace(value) == "" {
			continue
		}
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
