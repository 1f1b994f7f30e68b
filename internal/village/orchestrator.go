// Package village coordinates buying, placing and selling objects. An
// Orchestrator is not safe for concurrent use; drive it from the event loop.
package village

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/metrics"
	"villagecraft.ai/internal/persistence/history"
	"villagecraft.ai/internal/persistence/saves"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/deletion"
	"villagecraft.ai/internal/village/feedback"
	"villagecraft.ai/internal/village/geom"
	"villagecraft.ai/internal/village/placement"
	"villagecraft.ai/internal/village/world"
)

// ErrInsufficientFunds is returned when a purchase is refused for lack of coins.
// It is an expected outcome and never a fault.
var ErrInsufficientFunds = errors.New("village: insufficient funds")

type Saver interface {
	Save(trigger string) error
}

type Loader interface {
	Load() (saves.LoadReport, error)
}

type TradeRecorder interface {
	RecordTrade(history.Trade)
}

type Options struct {
	Ledger    *ledger.Ledger
	Catalog   *catalog.Catalog
	World     *world.World
	Placement *placement.Controller
	Board     *feedback.Board
	Saver     Saver
	Trades    TradeRecorder
	Metrics   *metrics.VillageMetrics
	Log       zerolog.Logger
}

type Orchestrator struct {
	ledger    *ledger.Ledger
	cat       *catalog.Catalog
	world     *world.World
	placement *placement.Controller
	deletion  *deletion.Flow
	board     *feedback.Board
	saver     Saver
	trades    TradeRecorder
	metrics   *metrics.VillageMetrics
	log       zerolog.Logger

	balanceObs ledger.ObserverID
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		ledger:    opts.Ledger,
		cat:       opts.Catalog,
		world:     opts.World,
		placement: opts.Placement,
		board:     opts.Board,
		saver:     opts.Saver,
		trades:    opts.Trades,
		metrics:   opts.Metrics,
		log:       opts.Log.With().Str("component", "village").Logger(),
	}
	o.deletion = deletion.New(o.ledger, o.world, o.cat, o.saver)
	o.balanceObs = o.ledger.Register(func(c ledger.Change) { o.metrics.SetBalance(c.Balance) })
	o.metrics.SetBalance(o.ledger.Balance())
	o.metrics.SetObjects(o.world.Len())
	return o
}

// Close unregisters the orchestrator's ledger observer.
func (o *Orchestrator) Close() {
	o.ledger.Unregister(o.balanceObs)
}

func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.cat }
func (o *Orchestrator) Board() *feedback.Board { return o.board }
func (o *Orchestrator) Objects() []world.Object { return o.world.Objects() }
func (o *Orchestrator) Session() (placement.Session, bool) { return o.placement.Active() }

// RequestPurchase checks affordability and opens a placement session. When the
// player cannot afford the entry no session is created and ErrInsufficientFunds
// is returned.
func (o *Orchestrator) RequestPurchase(catalogID string, spawn geom.Vec3) (placement.Session, error) {
	entry, err := o.cat.Get(catalogID)
	if err != nil {
		o.metrics.IncRejection("unknown_entry")
		o.board.Show(feedback.Error, "That item is not for sale.")
		return placement.Session{}, err
	}
	if !o.ledger.CanAfford(entry.Cost) {
		o.metrics.IncRejection("insufficient_funds")
		o.board.Show(feedback.Warning, fmt.Sprintf("Not enough coins for %s: costs %s, you have %s.",
			entry.DisplayName, humanize.Comma(entry.Cost), humanize.Comma(o.ledger.Balance())))
		return placement.Session{}, fmt.Errorf("%s costs %d: %w", entry.ID, entry.Cost, ErrInsufficientFunds)
	}
	sess, err := o.placement.Begin(entry.ID, spawn)
	if errors.Is(err, placement.ErrNonFinite) {
		o.metrics.IncRejection("bad_position")
		o.board.Show(feedback.Error, "That spot is outside the village.")
		return placement.Session{}, err
	}
	if err != nil {
		o.metrics.IncRejection("session_active")
		o.board.Show(feedback.Warning, "Finish placing the current item first.")
		return placement.Session{}, err
	}
	o.board.Show(feedback.Info, fmt.Sprintf("Placing %s (%s coins).", entry.DisplayName, humanize.Comma(entry.Cost)))
	return sess, nil
}

// Reposition moves the active session to raw snapped to the grid. A position that
// is not finite, before or after snapping, is refused and the session keeps its spot.
func (o *Orchestrator) Reposition(raw geom.Vec3) (geom.Vec3, error) {
	pos, err := o.placement.Reposition(raw)
	if errors.Is(err, placement.ErrNonFinite) {
		o.board.Show(feedback.Error, "That spot is outside the village.")
	}
	return pos, err
}

func (o *Orchestrator) Rotate(z float64) error { return o.placement.Rotate(z) }

func (o *Orchestrator) SetScale(s geom.Scale) error { return o.placement.SetScale(s) }

// ConfirmPlacement finishes the session, charges the catalog cost and places the
// object. If the charge fails (funds were spent elsewhere since the request) the
// session is discarded and ErrInsufficientFunds is returned.
func (o *Orchestrator) ConfirmPlacement() (world.Object, error) {
	active, ok := o.placement.Active()
	if !ok {
		return world.Object{}, placement.ErrNoActiveSession
	}
	entry, err := o.cat.Get(active.CatalogID)
	if err != nil {
		_, _ = o.placement.Cancel()
		return world.Object{}, err
	}
	sess, err := o.placement.Confirm()
	if err != nil {
		return world.Object{}, err
	}

	paid, err := o.ledger.Spend(entry.Cost)
	if err != nil || !paid {
		o.metrics.IncRejection("spend_failed")
		o.log.Warn().Err(err).Str("catalog_id", entry.ID).Int64("cost", entry.Cost).Int64("balance", o.ledger.Balance()).
			Msg("charge failed at confirm, discarding placement")
		o.board.Show(feedback.Error, fmt.Sprintf("Could not buy %s: not enough coins.", entry.DisplayName))
		if err != nil {
			return world.Object{}, err
		}
		return world.Object{}, fmt.Errorf("%s costs %d: %w", entry.ID, entry.Cost, ErrInsufficientFunds)
	}

	obj := world.Object{
		InstanceID:   world.NewInstanceID(),
		CatalogID:    entry.ID,
		Position:     sess.Position,
		RotationZ:    sess.RotationZ,
		Scale:        sess.Scale,
		OriginalCost: entry.Cost,
		State:        world.Placed,
	}
	if err := o.world.Add(obj); err != nil {
		// Undo the charge so the player is never billed for an object that does not exist.
		if cerr := o.ledger.Credit(entry.Cost); cerr != nil {
			err = errors.Join(err, cerr)
		}
		o.board.Show(feedback.Error, fmt.Sprintf("Could not place %s.", entry.DisplayName))
		return world.Object{}, err
	}
	o.metrics.IncPurchase(entry.ID)
	o.metrics.SetObjects(o.world.Len())
	if o.trades != nil {
		o.trades.RecordTrade(history.Trade{Kind: history.Purchase, InstanceID: obj.InstanceID, CatalogID: obj.CatalogID, Amount: entry.Cost, Balance: o.ledger.Balance()})
	}

	if err := o.save(saves.TriggerPlacement); err != nil {
		o.board.Show(feedback.Warning, fmt.Sprintf("Placed %s, but the village could not be saved.", entry.DisplayName))
		return obj, nil
	}
	o.board.Show(feedback.Success, fmt.Sprintf("Placed %s for %s coins.", entry.DisplayName, humanize.Comma(entry.Cost)))
	return obj, nil
}

// CancelPlacement abandons the session. It never touches the ledger or the save.
func (o *Orchestrator) CancelPlacement() error {
	sess, err := o.placement.Cancel()
	if err != nil {
		return err
	}
	name := sess.CatalogID
	if e, ok := o.cat.Lookup(sess.CatalogID); ok {
		name = e.DisplayName
	}
	o.board.Show(feedback.Info, fmt.Sprintf("Cancelled placing %s.", name))
	return nil
}

func (o *Orchestrator) NotifyObjectSelected(instanceID string) (deletion.Candidate, error) {
	cand, err := o.deletion.Select(instanceID)
	if err != nil {
		o.board.Show(feedback.Error, "That object can't be sold.")
		return deletion.Candidate{}, err
	}
	o.board.Show(feedback.Info, fmt.Sprintf("Sell %s for %s coins?", cand.Entry.DisplayName, humanize.Comma(cand.Refund)))
	return cand, nil
}

func (o *Orchestrator) Selection() (deletion.Candidate, bool) { return o.deletion.Selected() }

func (o *Orchestrator) ClearSelection() { o.deletion.ClearSelection() }

// ConfirmDeletion sells the selected object. ok is false when nothing was selected.
func (o *Orchestrator) ConfirmDeletion() (deletion.Result, bool, error) {
	res, ok, err := o.deletion.ConfirmDelete()
	if err != nil {
		o.log.Error().Err(err).Msg("delete failed")
		o.board.Show(feedback.Error, "Could not sell that object.")
		return res, false, err
	}
	if !ok {
		return res, false, nil
	}
	o.metrics.AddRefund(res.Object.CatalogID, res.Refund)
	o.metrics.SetObjects(o.world.Len())
	if o.trades != nil {
		o.trades.RecordTrade(history.Trade{Kind: history.Sale, InstanceID: res.Object.InstanceID, CatalogID: res.Object.CatalogID, Amount: res.Refund, Balance: res.Balance})
	}
	if res.SaveErr != nil {
		o.board.Show(feedback.Warning, fmt.Sprintf("Sold %s, but the village could not be saved.", res.Entry.DisplayName))
		return res, true, nil
	}
	o.board.Show(feedback.Success, fmt.Sprintf("Sold %s for %s coins.", res.Entry.DisplayName, humanize.Comma(res.Refund)))
	return res, true, nil
}

// Restore loads the save through l. Corrupt saves fall back to a fresh village
// and are reported to the player.
func (o *Orchestrator) Restore(l Loader) (saves.LoadReport, error) {
	o.deletion.Forget()
	rep, err := l.Load()
	if err != nil {
		o.board.Show(feedback.Error, "Could not read the saved village.")
		return rep, err
	}
	o.metrics.SetObjects(o.world.Len())
	switch {
	case rep.Corrupt:
		o.board.Show(feedback.Warning, "Saved village was damaged. Starting a new village.")
	case len(rep.Skipped) > 0:
		o.board.Show(feedback.Warning, fmt.Sprintf("%d saved objects could not be restored.", len(rep.Skipped)))
	}
	return rep, nil
}

func (o *Orchestrator) Save(trigger string) error { return o.save(trigger) }

// OnExit and OnSuspend are called by the host before it tears the village down.
func (o *Orchestrator) OnExit() error { return o.save(saves.TriggerExit) }
func (o *Orchestrator) OnSuspend() error { return o.save(saves.TriggerSuspend) }

func (o *Orchestrator) save(trigger string) error {
	if o.saver == nil {
		return nil
	}
	return o.saver.Save(trigger)
}
