package trade

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason records which rule closed a trade. Lower values take precedence.
type ExitReason int

const (
	NoExit     ExitReason = iota
	TakeProfit            // pnl reached the take-profit threshold
	StopLoss              // pnl reached the stop-loss threshold
	TimeLimit             // holding horizon elapsed without a threshold hit
)

func (er ExitReason) String() string {
	switch er {
	case NoExit:
		return "no_exit"
	case TakeProfit:
		return "take_profit"
	case StopLoss:
		return "stop_loss"
	case TimeLimit:
		return "time_limit"
	default:
		return "unknown"
	}
}

// ParseExitReason maps a stored reason string back to its ExitReason
func ParseExitReason(v string) ExitReason {
	switch v {
	case "take_profit":
		return TakeProfit
	case "stop_loss":
		return StopLoss
	case "time_limit":
		return TimeLimit
	default:
		return NoExit
	}
}

// Policy holds the exit thresholds and horizons applied on every evaluation tick
type Policy struct {
	TakeProfit    float64       `yaml:"take_profit"`    // fractional gain, 0.10 = +10%
	StopLoss      float64       `yaml:"stop_loss"`      // fractional loss magnitude, 0.10 = -10%
	SimpleHorizon time.Duration `yaml:"simple_horizon"` // max hold for simple trades
	SizedHorizon  time.Duration `yaml:"sized_horizon"`  // max hold for sized trades
}

// DefaultPolicy returns the ±10% / 1h / 2h policy
func DefaultPolicy() Policy {
	return Policy{
		TakeProfit:    0.10,
		StopLoss:      0.10,
		SimpleHorizon: time.Hour,
		SizedHorizon:  2 * time.Hour,
	}
}

// Validate checks the thresholds and horizons are usable
func (p Policy) Validate() error {
	if p.TakeProfit <= 0 || p.StopLoss <= 0 {
		return fmt.Errorf("take_profit and stop_loss must be positive")
	}
	if p.SimpleHorizon <= 0 || p.SizedHorizon <= 0 {
		return fmt.Errorf("trade horizons must be positive")
	}
	return nil
}

// Horizon returns the maximum hold time for the given kind
func (p Policy) Horizon(k Kind) time.Duration {
	if k == KindSized {
		return p.SizedHorizon
	}
	return p.SimpleHorizon
}

// Decision is the outcome of evaluating one open trade at one price
type Decision struct {
	Close  bool
	Result Result
	Reason ExitReason
	PnLPct float64
	Held   time.Duration
}

// PnLPct returns the fractional return of t at price, in the trade's own direction.
// Sized trades deduct the fee from the notional return.
func PnLPct(t Trade, price float64) float64 {
	dir := t.Side().Direction()
	if t.Kind() != KindSized {
		return dir * (price - t.EntryPrice()) / t.EntryPrice()
	}

	entry := decimal.NewFromFloat(t.EntryPrice())
	notional := decimal.NewFromFloat(t.OrderSize())
	units := notional.Div(entry)
	gross := units.Mul(decimal.NewFromFloat(price).Sub(entry)).Mul(decimal.NewFromFloat(dir))
	net := gross.Sub(decimal.NewFromFloat(t.Fee()))
	pct, _ := net.Div(notional).Float64()
	return pct
}

// Evaluate applies take-profit, stop-loss and timeout in that order.
// Threshold hits win over the timeout at the same tick.
func (p Policy) Evaluate(t Trade, price float64, now time.Time) Decision {
	d := Decision{Held: now.Sub(t.OpenedAt())}
	if !t.IsOpen() || !(price > 0) {
		return d
	}

	d.PnLPct = PnLPct(t, price)

	switch {
	case d.PnLPct >= p.TakeProfit:
		d.Close, d.Result, d.Reason = true, Win, TakeProfit
	case d.PnLPct <= -p.StopLoss:
		d.Close, d.Result, d.Reason = true, Loss, StopLoss
	case d.Held > p.Horizon(t.Kind()):
		d.Close, d.Result, d.Reason = true, Neutral, TimeLimit
	}
	return d
}
