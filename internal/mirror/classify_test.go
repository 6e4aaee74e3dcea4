package mirror

import (
	"testing"
	"time"

	"mirror-engine/internal/registry"
	"mirror-engine/pkg/types"
)

func baseDeps() ClassifierDeps {
	return ClassifierDeps{
		Allowlist:   registry.NewAllowlist(false, nil),
		Registry: registry.New(map[string]registry.Symbol{
			"BTC": {Contract: "BTCUSDT", Listed: true},
			"ETH": {Contract: "ETHUSDT", Listed: true},
		}),
		TWAP:        NewTWAPAggregator(make(map[string]*TWAPOrder)),
		ProcessedTx: make(map[string]struct{}),
	}
}

func TestClassify_FullClosePrecedesReverseFlip(t *testing.T) {
	t.Parallel()
	// S3: size/start_position == 1.0 and direction matches the reverse
	// pattern. Rule 6 must win.
	ev := SourceFill{
		Coin: "ETH", Side: types.Buy, Size: 0.5, Price: 3000,
		Direction: "Short > Long", StartPosition: -0.5, ClosedPnL: 100,
	}
	got := Classify(ev, types.StatusPending, baseDeps())
	if got != types.ClassCloseFull {
		t.Fatalf("Classify() = %v, want CLOSE_FULL", got)
	}
}

func TestClassify_S2FullClose(t *testing.T) {
	t.Parallel()
	ev := SourceFill{
		Coin: "BTC", Side: types.Sell, Size: 3.0, Price: 50000,
		Direction: "Close Long", StartPosition: 3.0, ClosedPnL: 10000,
	}
	got := Classify(ev, types.StatusPending, baseDeps())
	if got != types.ClassCloseFull {
		t.Fatalf("Classify() = %v, want CLOSE_FULL", got)
	}
}

func TestClassify_ReverseFlipWithoutFullClose(t *testing.T) {
	t.Parallel()
	ev := SourceFill{
		Coin: "ETH", Side: types.Buy, Size: 0.2, Price: 3000,
		Direction: "Short > Long", StartPosition: -1.0,
	}
	got := Classify(ev, types.StatusPending, baseDeps())
	if got != types.ClassReverseFlip {
		t.Fatalf("Classify() = %v, want REVERSE_FLIP", got)
	}
	if side := ReverseFlipSide(ev.Direction); side != types.Buy {
		t.Errorf("ReverseFlipSide() = %v, want Buy", side)
	}
}

func TestClassify_DuplicateTxHash(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	deps.ProcessedTx["0xabc"] = struct{}{}
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, TxHash: "0xabc", Direction: "Open Long"}
	got := Classify(ev, types.StatusPending, deps)
	if got != types.ClassSkipDuplicate {
		t.Fatalf("Classify() = %v, want SKIP_DUPLICATE", got)
	}
}

func TestClassify_SentinelTxHashNeverDuplicate(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	deps.ProcessedTx[SentinelTxHash] = struct{}{}
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, TxHash: SentinelTxHash, Direction: "Open Long"}
	got := Classify(ev, types.StatusPending, deps)
	if got == types.ClassSkipDuplicate {
		t.Fatalf("Classify() = %v, sentinel tx_hash must never dedupe", got)
	}
}

func TestClassify_AllowlistUnsupported(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	deps.Allowlist = registry.NewAllowlist(true, map[string]bool{"ETH": true})
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: "Open Long"}
	got := Classify(ev, types.StatusPending, deps)
	if got != types.ClassSkipUnsupported {
		t.Fatalf("Classify() = %v, want SKIP_UNSUPPORTED", got)
	}
}

func TestClassify_Stale(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	deps.AgeFilterOn = true
	deps.MaxAge = time.Hour
	deps.Now = func() time.Time { return time.Unix(10000, 0) }
	ev := SourceFill{
		Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: "Open Long",
		Timestamp: time.Unix(10000, 0).Add(-2 * time.Hour),
	}
	got := Classify(ev, types.StatusPending, deps)
	if got != types.ClassSkipStale {
		t.Fatalf("Classify() = %v, want SKIP_STALE", got)
	}
}

func TestClassify_OpenVsAdd(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: "Open Long"}

	got := Classify(ev, types.StatusPending, deps)
	if got != types.ClassOpen {
		t.Fatalf("Classify() = %v, want OPEN", got)
	}

	deps.HasSamesidePos = func(coin string, side types.Side) bool { return true }
	got = Classify(ev, types.StatusPending, deps)
	if got != types.ClassAdd {
		t.Fatalf("Classify() = %v, want ADD", got)
	}
}

func TestClassify_TWAPSlice(t *testing.T) {
	t.Parallel()
	deps := baseDeps()
	deps.TWAP.Slice("oid-1", 0.1, time.Now())
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: "Open Long", OID: "oid-1"}
	got := Classify(ev, types.StatusPending, deps)
	if got != types.ClassTWAPSlice {
		t.Fatalf("Classify() = %v, want TWAP_SLICE", got)
	}
}

func TestClassify_TotalFunction(t *testing.T) {
	t.Parallel()
	// Every well-formed input must produce exactly one of the documented
	// outcomes — never an empty string.
	directions := []string{"Open Long", "Open Short", "Close Long", "Close Short", "Long > Short", "Short > Long", "", "Something else"}
	deps := baseDeps()
	for _, d := range directions {
		ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: d}
		got := Classify(ev, types.StatusPending, deps)
		if got == "" {
			t.Errorf("Classify(direction=%q) returned empty classification", d)
		}
	}
}

func TestClassify_AlreadyTerminalNeverReDispatched(t *testing.T) {
	t.Parallel()
	ev := SourceFill{Coin: "BTC", Side: types.Buy, Size: 1, Price: 100, Direction: "Open Long"}
	got := Classify(ev, types.StatusProcessed, baseDeps())
	if got != types.ClassSkip {
		t.Fatalf("Classify() = %v, want ClassSkip for terminal marker", got)
	}
}
