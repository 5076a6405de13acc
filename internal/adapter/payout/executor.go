package payout

import (
	"context"

	"github.com/parametriq/settlement-core/internal/logger"
	"github.com/parametriq/settlement-core/internal/usecase/service_interfaces"
)

// RailExecutor is the default payout-execution adapter. The actual money
// movement happens on an external rail; this implementation acknowledges the
// instruction and reports success, leaving the rail-specific integration to
// deployment-specific builds.
type RailExecutor struct {
	rail string
}

func NewRailExecutor(rail string) *RailExecutor {
	return &RailExecutor{rail: rail}
}

func (e *RailExecutor) Execute(_ context.Context, claimID string, amountMicros int64, currency, authorizingEventID string) (service_interfaces.PayoutResult, error) {
	logger.Info("payout executor instruction dispatched", logger.Fields{
		"rail":               e.rail,
		"claimId":            claimID,
		"amountMicros":       amountMicros,
		"currency":           currency,
		"authorizingEventId": authorizingEventID,
	})

	return service_interfaces.PayoutResult{Success: true}, nil
}
