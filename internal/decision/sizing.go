package decision

import (
	"fmt"
	"math"
)

// PolicyMode selects how opening orders are sized.
type PolicyMode string

const (
	PolicyFixed         PolicyMode = "fixed"
	PolicyPercentEquity PolicyMode = "percent_equity"
	PolicyPercentRisk   PolicyMode = "percent_risk"
)

// Policy is the sizing configuration for opening orders.
type Policy struct {
	Mode PolicyMode
	// Qty is the constant quantity for the fixed policy.
	Qty int64
	// Pct is the equity fraction for the percent-equity policy (0..1).
	Pct float64
	// RiskPct is the equity fraction at risk for the percent-risk policy.
	RiskPct float64
	// StopPct is the assumed stop distance for the percent-risk policy.
	StopPct float64
}

// Validate rejects policies that cannot produce a quantity.
func (p Policy) Validate() error {
	switch p.Mode {
	case PolicyFixed:
		if p.Qty <= 0 {
			return fmt.Errorf("fixed policy requires positive qty, got %d", p.Qty)
		}
	case PolicyPercentEquity:
		if p.Pct <= 0 || p.Pct > 1 {
			return fmt.Errorf("percent_equity pct must be in (0,1], got %.4f", p.Pct)
		}
	case PolicyPercentRisk:
		if p.RiskPct <= 0 || p.RiskPct > 1 {
			return fmt.Errorf("percent_risk risk_pct must be in (0,1], got %.4f", p.RiskPct)
		}
		if p.StopPct <= 0 || p.StopPct > 1 {
			return fmt.Errorf("percent_risk stop_pct must be in (0,1], got %.4f", p.StopPct)
		}
	default:
		return fmt.Errorf("unknown sizing policy %q", p.Mode)
	}
	return nil
}

// Sizer applies one policy plus the shared post-processing caps: the max
// position size, the 0.95 cash affordability guard on buys, and the minimum
// quantity threshold below which no order is worth emitting.
type Sizer struct {
	Policy          Policy
	MaxPositionSize int64
	MinQty          int64
}

type sizingInput struct {
	price  float64
	equity float64
	cash   float64
	buying bool
}

// Size computes the opening quantity for one decision. Zero means the order
// is suppressed.
func (s Sizer) Size(in sizingInput) int64 {
	if in.price <= 0 {
		return 0
	}

	var qty int64
	switch s.Policy.Mode {
	case PolicyFixed:
		qty = s.Policy.Qty
	case PolicyPercentEquity:
		qty = int64(math.Floor(in.equity * s.Policy.Pct / in.price))
	case PolicyPercentRisk:
		qty = int64(math.Floor(in.equity * s.Policy.RiskPct / (in.price * s.Policy.StopPct)))
	default:
		return 0
	}

	if s.MaxPositionSize > 0 && qty > s.MaxPositionSize {
		qty = s.MaxPositionSize
	}
	if in.buying {
		affordable := int64(math.Floor(0.95 * in.cash / in.price))
		if qty > affordable {
			qty = affordable
		}
	}

	minQty := s.MinQty
	if minQty <= 0 {
		minQty = 1
	}
	if qty < minQty {
		return 0
	}
	return qty
}
