package signal

import (
	"time"

	"trapwatch/internal/model"
)

// Tracker resolves pending signals against incoming mids. SL is always
// checked before TP: when a single sample gaps through both levels the
// conservative outcome wins. Fills happen at the level price, not the
// observed mid, because the level is where a resting order would execute.
type Tracker struct {
	maxAge  time.Duration // 0 = pending signals never expire
	pending []*model.Signal
}

// NewTracker creates a tracker. maxAgeSec of 0 disables age-based expiry.
func NewTracker(maxAgeSec int64) *Tracker {
	return &Tracker{maxAge: time.Duration(maxAgeSec) * time.Second}
}

// PendingCount returns the number of open signals.
func (t *Tracker) PendingCount() int { return len(t.pending) }

// Pending returns the open signals, oldest first. The returned slice is the
// tracker's own; callers must not mutate it.
func (t *Tracker) Pending() []*model.Signal { return t.pending }

// Add registers a newly admitted pending signal.
func (t *Tracker) Add(sig *model.Signal) {
	t.pending = append(t.pending, sig)
}

// Tick checks every pending signal against the new mid and returns the
// signals resolved by this sample, in registration order.
func (t *Tracker) Tick(ts time.Time, mid float64) []*model.Signal {
	if len(t.pending) == 0 {
		return nil
	}
	var resolved []*model.Signal
	remaining := t.pending[:0]
	for _, sig := range t.pending {
		if t.resolve(sig, ts, mid) {
			resolved = append(resolved, sig)
		} else {
			remaining = append(remaining, sig)
		}
	}
	t.pending = remaining
	return resolved
}

// CloseAll force-expires every pending signal at the given mid. Used at the
// end of a replay so the ledger contains no open positions.
func (t *Tracker) CloseAll(ts time.Time, mid float64) []*model.Signal {
	closed := t.pending
	t.pending = nil
	for _, sig := range closed {
		finish(sig, model.StatusExpired, mid, ts)
	}
	return closed
}

func (t *Tracker) resolve(sig *model.Signal, ts time.Time, mid float64) bool {
	if sig.Side == model.SideLong {
		if mid <= sig.SLPrice {
			finish(sig, model.StatusSLHit, sig.SLPrice, ts)
			return true
		}
		if mid >= sig.TPPrice {
			finish(sig, model.StatusTPHit, sig.TPPrice, ts)
			return true
		}
	} else {
		if mid >= sig.SLPrice {
			finish(sig, model.StatusSLHit, sig.SLPrice, ts)
			return true
		}
		if mid <= sig.TPPrice {
			finish(sig, model.StatusTPHit, sig.TPPrice, ts)
			return true
		}
	}
	if t.maxAge > 0 && ts.Sub(sig.TS) > t.maxAge {
		finish(sig, model.StatusExpired, mid, ts)
		return true
	}
	return false
}

func finish(sig *model.Signal, status model.SignalStatus, exit float64, ts time.Time) {
	sig.Status = status
	sig.ExitPrice = exit
	sig.ClosedAt = ts
	if sig.EntryPrice != 0 {
		pnl := (exit - sig.EntryPrice) / sig.EntryPrice * 10000
		if sig.Side == model.SideShort {
			pnl = -pnl
		}
		sig.PnlBps = pnl
	}
}
