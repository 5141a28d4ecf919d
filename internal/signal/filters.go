package signal

import (
	"fmt"

	"trapwatch/config"
	"trapwatch/internal/model"
)

// Filter admits or rejects a candidate. Name is stable and used for
// rejection metrics and the FiltersPassed audit trail on emitted signals.
type Filter interface {
	Name() string
	// Check returns ok=false with a human-readable reason on rejection.
	Check(c *Candidate, fv *model.FeatureVector) (ok bool, reason string)
}

// Chain evaluates filters in order and stops at the first rejection.
type Chain struct {
	filters []Filter
}

// NewChain builds the standard admission chain in its fixed order:
// spread, quote age, impact, volatility band, momentum confirmation.
func NewChain(cfg config.Strategy) *Chain {
	return &Chain{filters: []Filter{
		spreadFilter{max: cfg.SpreadMaxBps},
		quoteAgeFilter{max: cfg.QuoteAgeMaxMs},
		impactFilter{max: cfg.ImpactMaxBps},
		volatilityFilter{min: cfg.VolMin, max: cfg.VolMax},
		momentumFilter{
			overbought: cfg.RSIOverbought,
			oversold:   cfg.RSIOversold,
			buffer:     cfg.RSIConfirmBuffer,
		},
	}}
}

// Check runs the chain. On rejection it returns the rejecting filter's name
// and reason; passed always lists the filters cleared before the verdict.
func (ch *Chain) Check(c *Candidate, fv *model.FeatureVector) (passed []string, rejectedBy, reason string) {
	passed = make([]string, 0, len(ch.filters))
	for _, f := range ch.filters {
		ok, why := f.Check(c, fv)
		if !ok {
			return passed, f.Name(), why
		}
		passed = append(passed, f.Name())
	}
	return passed, "", ""
}

// spreadFilter rejects when the quoted spread is too wide to execute near mid.
type spreadFilter struct{ max float64 }

func (spreadFilter) Name() string { return "spread" }

func (f spreadFilter) Check(_ *Candidate, fv *model.FeatureVector) (bool, string) {
	if fv.SpreadBps >= f.max {
		return false, fmt.Sprintf("spread %.2fbps >= %.2fbps", fv.SpreadBps, f.max)
	}
	return true, ""
}

// quoteAgeFilter rejects stale books.
type quoteAgeFilter struct{ max int64 }

func (quoteAgeFilter) Name() string { return "quote_age" }

func (f quoteAgeFilter) Check(_ *Candidate, fv *model.FeatureVector) (bool, string) {
	if fv.QuoteAgeMs >= f.max {
		return false, fmt.Sprintf("quote age %dms >= %dms", fv.QuoteAgeMs, f.max)
	}
	return true, ""
}

// impactFilter checks the impact cost on the side the signal would trade:
// buy impact for longs, sell impact for shorts. A zero impact means the
// venue did not report one and passes.
type impactFilter struct{ max float64 }

func (impactFilter) Name() string { return "impact" }

func (f impactFilter) Check(c *Candidate, fv *model.FeatureVector) (bool, string) {
	impact := fv.ImpactBuyBps
	if c.Side == model.SideShort {
		impact = fv.ImpactSellBps
	}
	if impact >= f.max {
		return false, fmt.Sprintf("%s impact %.2fbps >= %.2fbps", c.Side, impact, f.max)
	}
	return true, ""
}

// volatilityFilter requires realized volatility inside the tradeable band:
// too low and the reclaim is noise, too high and the SL distance is noise.
// A not-yet-ready volatility passes rather than vetoing on missing data.
type volatilityFilter struct{ min, max float64 }

func (volatilityFilter) Name() string { return "volatility" }

func (f volatilityFilter) Check(_ *Candidate, fv *model.FeatureVector) (bool, string) {
	if !fv.VolatilityReady {
		return true, ""
	}
	if fv.Volatility < f.min {
		return false, fmt.Sprintf("volatility %.6f < min %.6f", fv.Volatility, f.min)
	}
	if fv.Volatility > f.max {
		return false, fmt.Sprintf("volatility %.6f > max %.6f", fv.Volatility, f.max)
	}
	return true, ""
}

// momentumFilter confirms the breakout was an exhaustion-then-reversion move:
// a short needs the RSI to have crossed overbought during the breakout and to
// have since retraced by at least the buffer; a long is mirrored against
// oversold. When RSI never became ready the filter passes rather than
// vetoing on missing data.
type momentumFilter struct {
	overbought float64
	oversold   float64
	buffer     float64
}

func (momentumFilter) Name() string { return "momentum" }

func (f momentumFilter) Check(c *Candidate, fv *model.FeatureVector) (bool, string) {
	if !c.RSISeen || !fv.RSIReady {
		return true, ""
	}
	if c.Side == model.SideShort {
		if c.RSIMax < f.overbought {
			return false, fmt.Sprintf("rsi max %.1f never exceeded %.1f", c.RSIMax, f.overbought)
		}
		if c.RSIMax-fv.RSI < f.buffer {
			return false, fmt.Sprintf("rsi %.1f retraced %.1f from max %.1f, need %.1f",
				fv.RSI, c.RSIMax-fv.RSI, c.RSIMax, f.buffer)
		}
		return true, ""
	}
	if c.RSIMin > f.oversold {
		return false, fmt.Sprintf("rsi min %.1f never fell below %.1f", c.RSIMin, f.oversold)
	}
	if fv.RSI-c.RSIMin < f.buffer {
		return false, fmt.Sprintf("rsi %.1f recovered %.1f from min %.1f, need %.1f",
			fv.RSI, fv.RSI-c.RSIMin, c.RSIMin, f.buffer)
	}
	return true, ""
}
