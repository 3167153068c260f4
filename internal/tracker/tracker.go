package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ledger-holder/internal/holder"
	"ledger-holder/internal/ledger"
	"ledger-holder/internal/observability"
	"ledger-holder/internal/storage"
)

// ErrNoLedger is returned when a mutable copy is requested before any
// closed ledger has been installed.
var ErrNoLedger = errors.New("no closed ledger held")

type Slot string

const (
	SlotClosed    Slot = "closed"
	SlotValidated Slot = "validated"
)

// Loader reads the newest ledger from durable storage.
type Loader interface {
	LoadLatestLedger(ctx context.Context, validated bool) (storage.LedgerRow, error)
}

// Tracker keeps the latest closed and latest validated ledgers.
// Each slot is its own holder; the two are never updated together.
type Tracker struct {
	loader    Loader
	closed    holder.Holder[*ledger.Ledger]
	validated holder.Holder[*ledger.Ledger]

	// serializes load-compare-install so a slow refresh cannot
	// overwrite a newer ledger installed by a faster one
	refreshMu sync.Mutex
}

func New(loader Loader) *Tracker { return &Tracker{loader: loader} }

func (t *Tracker) slot(s Slot) *holder.Holder[*ledger.Ledger] {
	switch s {
	case SlotClosed:
		return &t.closed
	case SlotValidated:
		return &t.validated
	}
	return nil
}

// Ledger returns the ledger held in slot s, or nil when the slot is empty
// or unknown.
func (t *Tracker) Ledger(s Slot) *ledger.Ledger {
	h := t.slot(s)
	if h == nil {
		return nil
	}
	return h.Get()
}

func (t *Tracker) Closed() *ledger.Ledger    { return t.closed.Get() }
func (t *Tracker) Validated() *ledger.Ledger { return t.validated.Get() }

// Ready reports whether a closed ledger is available.
func (t *Tracker) Ready() bool { return !t.closed.Empty() }

// OpenLedger returns a private mutable copy of the closed ledger.
func (t *Tracker) OpenLedger() (*ledger.Ledger, error) {
	start := time.Now()
	l := t.closed.GetMutable()
	if l == nil {
		return nil, ErrNoLedger
	}
	observability.ForkDuration.Observe(time.Since(start).Seconds())
	return l, nil
}

// Install hands l to slot s. A mutable l is frozen by the holder; the caller
// must not touch l afterwards. A nil l clears the slot.
func (t *Tracker) Install(s Slot, l *ledger.Ledger) {
	h := t.slot(s)
	if h == nil {
		return
	}
	h.Set(l)

	var seq uint32
	if l != nil {
		seq = l.Seq()
	}
	observability.HeldSeq.WithLabelValues(string(s)).Set(float64(seq))
}

// Refresh reloads both slots from the loader. A slot whose query finds no
// ledger is cleared; a slot whose load fails keeps its previous ledger.
func (t *Tracker) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() { observability.RefreshDuration.Observe(time.Since(start).Seconds()) }()

	return errors.Join(
		t.refreshSlot(ctx, SlotClosed),
		t.refreshSlot(ctx, SlotValidated),
	)
}

func (t *Tracker) refreshSlot(ctx context.Context, s Slot) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	row, err := t.loader.LoadLatestLedger(ctx, s == SlotValidated)
	switch {
	case errors.Is(err, storage.ErrNoLedger):
		t.Install(s, nil)
		observability.RefreshTotal.WithLabelValues(string(s), "empty").Inc()
		log.Warn().Str("slot", string(s)).Msg("no ledger stored; slot cleared")
		return nil
	case err != nil:
		observability.RefreshTotal.WithLabelValues(string(s), "error").Inc()
		return fmt.Errorf("load %s ledger: %w", s, err)
	}

	if cur := t.slot(s).Get(); cur != nil && cur.Seq() == row.Seq && cur.Header().Hash == row.Hash {
		observability.RefreshTotal.WithLabelValues(string(s), "unchanged").Inc()
		return nil
	}

	l, err := Build(row)
	if err != nil {
		observability.RefreshTotal.WithLabelValues(string(s), "error").Inc()
		return fmt.Errorf("build %s ledger %d: %w", s, row.Seq, err)
	}
	t.Install(s, l)
	observability.RefreshTotal.WithLabelValues(string(s), "installed").Inc()
	log.Info().Str("slot", string(s)).Uint32("seq", row.Seq).Int("entries", len(row.Entries)).
		Msg("ledger installed")
	return nil
}

// Build turns a stored row into a mutable ledger.
func Build(row storage.LedgerRow) (*ledger.Ledger, error) {
	l := ledger.New(ledger.Header{
		Seq:        row.Seq,
		Hash:       row.Hash,
		ParentHash: row.ParentHash,
		CloseTime:  row.CloseTime,
		TotalCoins: row.TotalCoins,
	})
	for _, e := range row.Entries {
		if err := l.Put(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// StartRefresher polls the loader every interval until ctx is done.
// It complements LISTEN/NOTIFY, which can miss notifications while
// reconnecting.
func (t *Tracker) StartRefresher(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("ledger refresher stopped")
				return
			case <-tick.C:
				if err := t.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("periodic ledger refresh")
				}
			}
		}
	}()
}
