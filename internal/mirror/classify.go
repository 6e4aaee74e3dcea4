package mirror

import (
	"strings"
	"time"

	"mirror-engine/internal/registry"
	"mirror-engine/pkg/types"
)

// fullCloseRatio is the §6 sentinel threshold: a fill whose size is at
// least this fraction of the starting position is a full close.
const fullCloseRatio = 0.995

// ClassifierDeps bundles the classifier's collaborators as explicit
// constructor-time dependencies (§9: no global singletons). Registry
// reports whether the destination venue currently lists the symbol for
// coin — consulted only when the allowlist is disabled (rule 3).
type ClassifierDeps struct {
	Allowlist       *registry.Allowlist
	Registry        *registry.Registry
	TWAP            *TWAPAggregator
	ProcessedTx     map[string]struct{}
	MaxAge          time.Duration
	AgeFilterOn     bool
	HasSamesidePos  func(coin string, side types.Side) bool // for OPEN vs ADD
	Now             func() time.Time
}

func (d ClassifierDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Classify implements the §4.1 Event Classifier: a pure function from one
// SourceFill plus its dependencies to exactly one Classification. Rules are
// evaluated in order; the first match wins. Rule 6 (full close) is checked
// strictly before rule 7 (reverse flip) — this is a hard contract (§8
// invariant 3), even though a full-close fill's direction string may also
// match the reverse-flip pattern.
func Classify(ev SourceFill, marker types.Status, deps ClassifierDeps) types.Classification {
	// Rule 1: already terminal upstream — callers must guard before
	// invoking Classify at all; Classify itself treats a terminal marker
	// as "do not re-dispatch" for defense in depth.
	if marker.Terminal() {
		return types.ClassSkip
	}

	// Rule 2: duplicate non-sentinel tx_hash.
	if !IsSentinelTxHash(ev.TxHash) {
		if _, seen := deps.ProcessedTx[ev.TxHash]; seen {
			return types.ClassSkipDuplicate
		}
	}

	// Rule 3: allowlist / destination listing.
	permitted := deps.Allowlist == nil || deps.Allowlist.Permitted(ev.Coin)
	listed := deps.Registry != nil && deps.Registry.Listed(ev.Coin)
	allowlistDisabled := deps.Allowlist == nil || !deps.Allowlist.Enabled
	if !permitted || (allowlistDisabled && !listed) {
		return types.ClassSkipUnsupported
	}

	// Rule 4: staleness.
	if deps.AgeFilterOn && deps.MaxAge > 0 {
		if deps.now().Sub(ev.Timestamp) > deps.MaxAge {
			return types.ClassSkipStale
		}
	}

	// Rule 5/6: full close.
	isFullClose := ev.StartPosition != 0 && absRatio(ev.Size, ev.StartPosition) >= fullCloseRatio
	if isFullClose {
		return types.ClassCloseFull
	}

	// Rule 7: reverse flip.
	if strings.Contains(ev.Direction, ">") {
		lower := strings.ToLower(ev.Direction)
		if strings.Contains(lower, "long > short") || strings.Contains(lower, "short > long") {
			return types.ClassReverseFlip
		}
	}

	// Rule 8: TWAP slice.
	if ev.OID != "" && deps.TWAP != nil && deps.TWAP.IsParent(ev.OID) {
		return types.ClassTWAPSlice
	}

	// Rule 9: partial close.
	if ev.ClosedPnL != 0 || strings.Contains(ev.Direction, "Close") {
		return types.ClassClosePartial
	}

	// Rule 10: open / add.
	if strings.Contains(ev.Direction, "Open") {
		if deps.HasSamesidePos != nil && deps.HasSamesidePos(ev.Coin, ev.Side) {
			return types.ClassAdd
		}
		return types.ClassOpen
	}

	// Rule 11: no rule matched.
	return types.ClassSkip
}

// ReverseFlipSide returns the side the handler should open given a
// REVERSE_FLIP direction label: Sell for "Long > Short", Buy for
// "Short > Long".
func ReverseFlipSide(direction string) types.Side {
	lower := strings.ToLower(direction)
	if strings.Contains(lower, "long > short") {
		return types.Sell
	}
	return types.Buy
}

func absRatio(size, startPosition float64) float64 {
	ratio := size / startPosition
	if ratio < 0 {
		return -ratio
	}
	return ratio
}
