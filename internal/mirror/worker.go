package mirror

import (
	"context"
	"log/slog"
	"time"

	"mirror-engine/internal/notify"
	"mirror-engine/internal/registry"
	"mirror-engine/internal/retry"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// Worker is the per-account dispatch loop (§5): poll the local event store
// for pending fills and orders, classify each, run the matching handler
// under the retry policy, persist its terminal status, and notify. Modeled
// on the teacher's Maker.Run — a single goroutine, a ticker, select on
// ctx.Done — generalized from one market to one account's whole event
// stream.
type Worker struct {
	Account      string
	Store        EventStore
	Handlers     *Handlers
	Registry     *registry.Registry
	Allowlist    *registry.Allowlist
	MaxAge       time.Duration
	AgeFilterOn  bool
	Notify       notify.Sink
	Events       chan<- EngineEvent
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Run blocks, draining the store every PollInterval, until ctx is cancelled.
// The supervisor cancels ctx to stop an account. Run checks ctx between
// events; the handler in flight receives the same ctx, so its retry sleeps,
// fill wait and venue calls return early once ctx is cancelled instead of
// running to completion.
func (w *Worker) Run(ctx context.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Logger.Info("worker started", "account", w.Account)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("worker stopped", "account", w.Account)
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes every currently-pending fill, then every currently-pending
// order, stopping early if ctx is cancelled between events.
func (w *Worker) drain(ctx context.Context) {
	fills, err := w.Store.PendingFills(ctx, w.Account)
	if err != nil {
		w.Logger.Error("load pending fills", "account", w.Account, "error", err)
	}
	for _, f := range fills {
		if ctx.Err() != nil {
			return
		}
		w.dispatchFill(ctx, f)
	}

	orders, err := w.Store.PendingOrders(ctx, w.Account)
	if err != nil {
		w.Logger.Error("load pending orders", "account", w.Account, "error", err)
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		w.dispatchOrder(ctx, o)
	}
}

// dispatchFill classifies ev and runs its handler. The registry lookup for
// ev.Coin is resolved up front only to build the destination symbol and the
// OPEN-vs-ADD collaborator; a lookup miss must NOT short-circuit Classify,
// since rule 2 (duplicate tx_hash, §4.1) has to run — and ProcessedTxHashes
// has to be updated — for every fill regardless of whether the coin maps to
// a destination symbol. An unmapped coin that Classify doesn't already catch
// via rule 3 is forced to ClassSkipUnsupported after the fact.
func (w *Worker) dispatchFill(ctx context.Context, ev SourceFill) {
	sym, ok := w.Registry.Lookup(ev.Coin)

	if ev.OID != "" {
		twap := NewTWAPAggregator(w.Handlers.State.TWAPs)
		twap.Slice(ev.OID, ev.Size, ev.Timestamp)
	}

	hasSameside := func(coin string, side types.Side) bool { return false }
	if ok {
		hasSameside = w.hasSamesidePosition(sym.Contract)
	}

	deps := ClassifierDeps{
		Allowlist:      w.Allowlist,
		Registry:       w.Registry,
		TWAP:           NewTWAPAggregator(w.Handlers.State.TWAPs),
		ProcessedTx:    w.Handlers.State.ProcessedTxHashes,
		MaxAge:         w.MaxAge,
		AgeFilterOn:    w.AgeFilterOn,
		HasSamesidePos: hasSameside,
	}
	marker := w.Handlers.State.Markers[ev.ID]
	class := Classify(ev, marker, deps)

	if !IsSentinelTxHash(ev.TxHash) && class != types.ClassSkipDuplicate {
		w.Handlers.State.ProcessedTxHashes[ev.TxHash] = struct{}{}
	}

	if !ok && !class.IsSkip() {
		class = types.ClassSkipUnsupported
	}

	symbol := ev.Coin
	if ok {
		symbol = sym.Contract
	}

	if class.IsSkip() {
		w.finishFill(ctx, ev, class, EngineEvent{Symbol: symbol, Side: ev.Side, Price: ev.Price}, skipStatus(class), nil)
		return
	}

	evt, status, err := w.runFillHandler(ctx, ev, symbol, class)
	evt.Classification = class
	evt.Account = w.Account
	w.finishFill(ctx, ev, class, evt, status, err)
}

func (w *Worker) runFillHandler(ctx context.Context, ev SourceFill, symbol string, class types.Classification) (evt EngineEvent, status types.Status, handlerErr error) {
	preset := RetryPresetFor(class)
	err := retry.Do(ctx, preset, retryable, func() error {
		switch class {
		case types.ClassOpen, types.ClassAdd, types.ClassTWAPSlice:
			evt, status, handlerErr = w.Handlers.HandleOpenAdd(ctx, ev, symbol)
		case types.ClassCloseFull:
			evt, status, handlerErr = w.Handlers.HandleClose(ctx, ev, symbol, true)
		case types.ClassClosePartial:
			evt, status, handlerErr = w.Handlers.HandleClose(ctx, ev, symbol, false)
		case types.ClassReverseFlip:
			evt, status, handlerErr = w.handleReverseFlip(ctx, ev, symbol)
		default:
			evt, status, handlerErr = EngineEvent{Symbol: symbol}, types.StatusFiltered, nil
		}
		return handlerErr
	})
	if err != nil && status != types.StatusFailed {
		status = types.StatusFailed
		handlerErr = err
	}
	return evt, status, handlerErr
}

func (w *Worker) handleReverseFlip(ctx context.Context, ev SourceFill, symbol string) (EngineEvent, types.Status, error) {
	side := ReverseFlipSide(ev.Direction)
	evt := EngineEvent{Symbol: symbol, Side: side, Price: ev.Price}

	outcome, err := ReverseFlip(ctx, w.Handlers.Venue, w.Handlers.Calc, symbol, ev.Coin, side, decimal.NewFromFloat(ev.Size), decimal.NewFromFloat(ev.Price))
	if outcome.Closed {
		w.Handlers.State.Memos.Set(symbol, side.Opposite(), outcome.Memo)
		// Mid-flip: closed but not yet reopened. Cleared only once step 3
		// (reopen) succeeds, below (§4.4).
		w.Handlers.State.ClosedSymbols[ev.Coin] = struct{}{}
	}
	if err != nil {
		if !outcome.Closed {
			return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, err)
		}
		evt.Reason = "reverse flip closed opposite side but failed to reopen"
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, err)
	}
	if outcome.Opened {
		delete(w.Handlers.State.ClosedSymbols, ev.Coin)
	} else {
		evt.Reason = "reverse flip closed opposite side; reopen skipped by sizing policy"
	}
	return evt, types.StatusProcessed, nil
}

func (w *Worker) dispatchOrder(ctx context.Context, ev SourceOrder) {
	sym, ok := w.Registry.Lookup(ev.Coin)
	if !ok {
		_ = w.Store.UpdateStatus(ctx, w.Account, EventOrder, ev.ID, types.StatusUnsupported)
		return
	}

	var evt EngineEvent
	var status types.Status
	var err error
	preset := types.RetryAPI

	switch ev.Action {
	case OrderPlaced:
		err = retry.Do(ctx, preset, retryable, func() error {
			evt, status, err = w.Handlers.HandlePlace(ctx, ev, sym.Contract)
			return err
		})
	case OrderCanceled:
		err = retry.Do(ctx, preset, retryable, func() error {
			evt, status, err = w.Handlers.HandleCancel(ctx, ev, sym.Contract)
			return err
		})
	default:
		status = types.StatusFiltered
	}
	if err != nil && status != types.StatusFailed {
		status = types.StatusFailed
	}

	if uerr := w.Store.UpdateStatus(ctx, w.Account, EventOrder, ev.ID, status); uerr != nil {
		w.Logger.Error("update order status", "account", w.Account, "id", ev.ID, "error", uerr)
	}
	w.notifyOrder(ctx, ev, evt, status, err)
}

// finishFill persists the fill's terminal status, emits the EngineEvent, and
// notifies — skipping notification entirely for skip classes (§7: no
// notification on FilterSkip).
func (w *Worker) finishFill(ctx context.Context, ev SourceFill, class types.Classification, evt EngineEvent, status types.Status, err error) {
	w.Handlers.State.Markers[ev.ID] = status

	if uerr := w.Store.UpdateStatus(ctx, w.Account, EventFill, ev.ID, status); uerr != nil {
		w.Logger.Error("update fill status", "account", w.Account, "id", ev.ID, "error", uerr)
	}

	if w.Events != nil {
		select {
		case w.Events <- evt:
		default:
		}
	}

	if class.IsSkip() {
		return
	}
	w.notifyFill(ctx, ev, evt, status, err)
}

func (w *Worker) notifyFill(ctx context.Context, ev SourceFill, evt EngineEvent, status types.Status, err error) {
	n := notify.Notification{
		Table: notify.Table{
			Account: w.Account, Symbol: evt.Symbol, Side: evt.Side, Size: evt.Size,
			Price: evt.Price, Leverage: evt.Leverage, PnL: evt.RealizedPnL,
			Reason: evt.Reason, TWAPProgress: evt.TWAPProgress,
		},
	}
	switch status {
	case types.StatusProcessed:
		n.Kind = types.NotifySuccess
		n.Title = string(evt.Classification) + " mirrored"
		if evt.Classification == types.ClassCloseFull || evt.Classification == types.ClassClosePartial || evt.Classification == types.ClassReverseFlip {
			n.Kind = types.NotifyClose
		}
	case types.StatusFailed:
		n.Kind = types.NotifyError
		n.Title = string(evt.Classification) + " failed"
		if err != nil {
			n.Body = err.Error()
		}
	default:
		return
	}
	if serr := w.Notify.Send(ctx, n); serr != nil {
		w.Logger.Error("send notification", "account", w.Account, "error", serr)
	}
}

func (w *Worker) notifyOrder(ctx context.Context, ev SourceOrder, evt EngineEvent, status types.Status, err error) {
	if status != types.StatusFailed {
		return
	}
	n := notify.Notification{
		Kind:  types.NotifyError,
		Title: string(ev.Action) + " failed",
		Table: notify.Table{Account: w.Account, Symbol: evt.Symbol, Side: ev.Side, Size: ev.Size, Price: ev.Price},
	}
	if err != nil {
		n.Body = err.Error()
	}
	if serr := w.Notify.Send(ctx, n); serr != nil {
		w.Logger.Error("send notification", "account", w.Account, "error", serr)
	}
}

// hasSamesidePosition returns the classifier's OPEN-vs-ADD collaborator: a
// live query of whether the destination venue already holds a position on
// side for symbol.
func (w *Worker) hasSamesidePosition(symbol string) func(coin string, side types.Side) bool {
	return func(coin string, side types.Side) bool {
		positions, err := w.Handlers.Venue.Positions(context.Background(), symbol)
		if err != nil {
			return false
		}
		for _, p := range positions {
			if types.Side(p.Side) == side {
				size, perr := decimal.NewFromString(p.Size)
				if perr == nil && !size.IsZero() {
					return true
				}
			}
		}
		return false
	}
}

func skipStatus(class types.Classification) types.Status {
	switch class {
	case types.ClassSkipDuplicate:
		return types.StatusDuplicate
	case types.ClassSkipUnsupported:
		return types.StatusUnsupported
	case types.ClassSkipStale, types.ClassSkipFiltered, types.ClassSkip:
		return types.StatusFiltered
	default:
		return types.StatusFiltered
	}
}
