package strategy

import (
	"context"
	"strings"

	"github.com/HanshengGUO/backtester-v2/internal/signal"
)

// Signaler defines behaviour shared by signal implementations: a directional
// entry evaluation and a per-side exit evaluation over a rolling bar window.
type Signaler interface {
	Entry(ctx context.Context, window []signal.Bar) signal.Direction
	Exit(ctx context.Context, window []signal.Bar, side signal.Side) bool
	Name() string
}

// Build returns a signal implementation matching the configured mode.
func Build(mode string, params Params, funding FundingSource) Signaler {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "ratio", "basis_ratio":
		return NewRatio(params, funding)
	default:
		return NewRatio(params, funding)
	}
}
