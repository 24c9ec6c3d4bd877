package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payrecon/internal/config"
)

// ConfigFromFile maps the YAML engine stanza onto a Config.
func ConfigFromFile(fc config.EngineConfig) (Config, error) {
	out := Config{
		MaxAttempts:   fc.MaxAttempts,
		RetryInitial:  fc.RetryInitial.Duration,
		NotifyTimeout: fc.NotifyTimeout.Duration,
	}
	if raw := fc.SettleTolerance; raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return out, fmt.Errorf("settle_tolerance: %w", err)
		}
		out.SettleTolerance = d
	}
	if raw := fc.WithdrawalApprovalLimit; raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return out, fmt.Errorf("withdrawal_approval_limit: %w", err)
		}
		out.WithdrawalApprovalLimit = d
	}
	return out, nil
}

// SweepConfigFromFile maps the YAML sweep stanza onto a SweepConfig.
func SweepConfigFromFile(fc config.SweepConfig) SweepConfig {
	return SweepConfig{
		Interval:    fc.Interval.Duration,
		MaxAge:      fc.MaxAge.Duration,
		BatchLimit:  fc.BatchLimit,
		Concurrency: fc.Concurrency,
		PollTimeout: fc.PollTimeout.Duration,
	}
}
