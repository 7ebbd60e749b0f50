package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/metrics"
)

const entitlementStateMetricsInterval = 30 * time.Second

type stateCounter interface {
	CountByState(ctx context.Context) (map[entitlement.State]int, error)
}

func runEntitlementStateMetrics(ctx context.Context, accounts stateCounter) {
	ticker := time.NewTicker(entitlementStateMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateEntitlementStateGauges(ctx, accounts)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateEntitlementStateGauges(ctx, accounts)
		}
	}
}

func updateEntitlementStateGauges(ctx context.Context, accounts stateCounter) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	counts, err := accounts.CountByState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update entitlement state metrics")
		return
	}

	for _, state := range entitlement.Known() {
		metrics.AccountsByEntitlementState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
