package mirror

import (
	"sync"
	"time"

	"mirror-engine/pkg/types"
)

// memoTTL is the forced-liquidation memo lifetime (§6 sentinel constants).
const memoTTL = 300 * time.Second

// memoEntry pairs a memo with its expiry time so Get can lazily evict.
type memoEntry struct {
	memo    ForcedLiquidationMemo
	expires time.Time
}

// memoKey identifies a forced-liquidation memo by symbol and side.
type memoKey struct {
	Symbol string
	Side   types.Side
}

// ForcedLiquidationMemos is the one per-account collection that is shared
// outside the owning worker (notification sink, analytics), so unlike every
// other set in State it is protected by a mutex (§5, §9).
type ForcedLiquidationMemos struct {
	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

// NewForcedLiquidationMemos creates an empty memo table.
func NewForcedLiquidationMemos() *ForcedLiquidationMemos {
	return &ForcedLiquidationMemos{entries: make(map[memoKey]memoEntry)}
}

// Set records a memo for (symbol, side), valid for memoTTL from now.
func (m *ForcedLiquidationMemos) Set(symbol string, side types.Side, memo ForcedLiquidationMemo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoKey{symbol, side}] = memoEntry{memo: memo, expires: memo.Time.Add(memoTTL)}
}

// Get returns the memo for (symbol, side) if one exists and has not
// expired. It lazily evicts the entry once past its expiry.
func (m *ForcedLiquidationMemos) Get(symbol string, side types.Side) (ForcedLiquidationMemo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoKey{symbol, side}
	e, ok := m.entries[key]
	if !ok {
		return ForcedLiquidationMemo{}, false
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		return ForcedLiquidationMemo{}, false
	}
	return e.memo, true
}

// State holds the per-account in-memory collections listed in §3. Every
// field except Memos is worker-local — only the account's own goroutine
// ever touches them, so no locking is needed there.
type State struct {
	// Markers mirrors the durable ProcessedMarker column for fills that have
	// already been classified this process lifetime, keyed by fill id. It
	// is a cache over the persisted status column, not a substitute for it.
	Markers map[int64]types.Status

	// ProcessedTxHashes deduplicates fills that arrive twice under the same
	// non-sentinel tx_hash.
	ProcessedTxHashes map[string]struct{}

	// NotifiedOrders suppresses duplicate success notifications across
	// handler retries, keyed by destination order id.
	NotifiedOrders map[string]struct{}

	// OrderIDMap maps source order_id to destination order id.
	OrderIDMap map[string]string

	// ClosedSymbols marks a coin as mid reverse-flip: closed but not yet
	// reopened. Cleared only when the reopen succeeds (§4.4).
	ClosedSymbols map[string]struct{}

	// TWAPs aggregates slices by (account is implicit — this State already
	// belongs to one account) oid.
	TWAPs map[string]*TWAPOrder

	// Memos is the one collection shared with external readers.
	Memos *ForcedLiquidationMemos
}

// NewState creates the empty per-account collections for a freshly-enabled
// account. The caller discards the whole State on disable (§3 lifecycle).
func NewState() *State {
	return &State{
		Markers:           make(map[int64]types.Status),
		ProcessedTxHashes: make(map[string]struct{}),
		NotifiedOrders:    make(map[string]struct{}),
		OrderIDMap:        make(map[string]string),
		ClosedSymbols:     make(map[string]struct{}),
		TWAPs:             make(map[string]*TWAPOrder),
		Memos:             NewForcedLiquidationMemos(),
	}
}
