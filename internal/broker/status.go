package broker

import (
	"context"

	"tradingcore/internal/model"
	"tradingcore/internal/risk"
)

// StatusSource implements intent.BrokerStatusSource over a BrokerFactory: a
// user-broker is EnabledAndConnected when it is itself Enabled and its
// broker's circuit isn't open (spec §4.6 point 1, "BROKER_NOT_CONNECTED").
type StatusSource struct {
	factory *BrokerFactory
}

// NewStatusSource wraps factory for C6 IntentFanOut's first validation gate.
func NewStatusSource(factory *BrokerFactory) *StatusSource {
	return &StatusSource{factory: factory}
}

// Status resolves the user-broker's adapter pair; a resolve failure (circuit
// open, adapter construction error, expired session) reports disconnected
// rather than propagating the error, since this gate is a yes/no fact, not a
// blocking dependency.
func (s *StatusSource) Status(ctx context.Context, ub model.UserBroker) risk.BrokerStatus {
	if !ub.Enabled {
		return risk.BrokerStatus{EnabledAndConnected: false}
	}
	_, _, err := s.factory.Resolve(ctx, ub)
	return risk.BrokerStatus{EnabledAndConnected: err == nil}
}
