package cta

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists roll-forward rows.
type Store interface {
	// Latest returns the most recent row strictly before key's period.
	Latest(ctx context.Context, key Key) (Row, bool, error)
	Get(ctx context.Context, key Key) (Row, bool, error)
	Save(ctx context.Context, row Row) error
	// Disposed reports whether any row for the entity, ledger and standard is
	// marked as fully disposed.
	Disposed(ctx context.Context, key Key) (bool, error)
	RecordDisposal(ctx context.Context, d Disposal) error
}

// Tracker maintains CTA roll-forwards.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (t *Tracker) WithNow(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// RollForward writes the period row from the prior closing balance. accumulated
// is the translation difference accumulated to the period end, so the period
// movement is its change against the prior row. Re-running a period replaces
// its components but keeps anything already recycled from it.
func (t *Tracker) RollForward(ctx context.Context, key Key, accumulated Components) (Row, error) {
	return t.rollForward(ctx, key, &accumulated)
}

// Carry writes the period row with no translation movement, keeping the prior
// accumulation. Used when the period was not translated at the current rate.
func (t *Tracker) Carry(ctx context.Context, key Key) (Row, error) {
	return t.rollForward(ctx, key, nil)
}

func (t *Tracker) rollForward(ctx context.Context, key Key, accumulated *Components) (Row, error) {
	if !key.Standard.Valid() {
		return Row{}, fmt.Errorf("cta: unsupported standard %q", key.Standard)
	}
	prior, err := t.prior(ctx, key)
	if err != nil {
		return Row{}, err
	}
	row := Row{Key: key}
	existing, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return Row{}, fmt.Errorf("cta: load %s: %w", key, err)
	}
	if ok {
		row.RecycledToPnL = existing.RecycledToPnL
		row.Disposed = existing.Disposed
	}
	row.Accumulated = prior.Accumulated
	if accumulated != nil {
		row.Accumulated = *accumulated
	}
	row.Opening = prior.Closing
	row.Components = row.Accumulated.Sub(prior.Accumulated)
	row.Movement = row.Components.Sum().Sub(row.RecycledToPnL)
	row.Closing = row.Opening.Add(row.Movement)
	row.UpdatedAt = t.now().UTC()
	if err := t.store.Save(ctx, row); err != nil {
		return Row{}, fmt.Errorf("cta: save %s: %w", key, err)
	}
	t.logger.Info("cta rolled forward",
		slog.String("key", key.String()),
		slog.String("opening", row.Opening.StringFixed(2)),
		slog.String("movement", row.Movement.StringFixed(2)),
		slog.String("closing", row.Closing.StringFixed(2)))
	return row, nil
}

// prior returns the latest row before key's period, or a zero row.
func (t *Tracker) prior(ctx context.Context, key Key) (Row, error) {
	prior, ok, err := t.store.Latest(ctx, key)
	if err != nil {
		return Row{}, fmt.Errorf("cta: load prior of %s: %w", key, err)
	}
	if !ok {
		return Row{}, nil
	}
	return prior, nil
}

// DisposalInput describes a disposal booked in key's period.
type DisposalInput struct {
	Key        Key
	Type       DisposalType
	Percentage decimal.Decimal
}

// Dispose reclassifies accumulated CTA to P&L. FULL and LOSS_OF_CONTROL
// recycle everything; PARTIAL recycles Percentage (0,100] of it. The amount is
// booked inside the period row so later roll-forwards open from the reduced
// closing balance.
func (t *Tracker) Dispose(ctx context.Context, in DisposalInput) (Disposal, error) {
	pct, err := disposalPercentage(in)
	if err != nil {
		return Disposal{}, err
	}
	disposed, err := t.store.Disposed(ctx, in.Key)
	if err != nil {
		return Disposal{}, err
	}
	if disposed {
		return Disposal{}, ErrAlreadyDisposed
	}
	row, ok, err := t.store.Get(ctx, in.Key)
	if err != nil {
		return Disposal{}, err
	}
	if !ok {
		prior, err := t.prior(ctx, in.Key)
		if err != nil {
			return Disposal{}, err
		}
		row = Row{Key: in.Key, Opening: prior.Closing, Closing: prior.Closing, Accumulated: prior.Accumulated}
	}
	accumulated := row.Closing
	recycled := accumulated.Mul(pct).Div(decimal.New(100, 0)).Round(2)
	row.Movement = row.Movement.Sub(recycled)
	row.Closing = row.Closing.Sub(recycled)
	row.RecycledToPnL = row.RecycledToPnL.Add(recycled)
	if in.Type != DisposalPartial {
		row.Disposed = true
	}
	row.UpdatedAt = t.now().UTC()
	if err := t.store.Save(ctx, row); err != nil {
		return Disposal{}, err
	}
	d := Disposal{Key: in.Key, Type: in.Type, Percentage: pct, Accumulated: accumulated, Recycled: recycled, DisposedAt: row.UpdatedAt}
	if err := t.store.RecordDisposal(ctx, d); err != nil {
		return Disposal{}, err
	}
	t.logger.Info("cta recycled to profit or loss",
		slog.String("key", in.Key.String()),
		slog.String("type", string(in.Type)),
		slog.String("recycled", recycled.StringFixed(2)))
	return d, nil
}

func disposalPercentage(in DisposalInput) (decimal.Decimal, error) {
	hundred := decimal.New(100, 0)
	switch in.Type {
	case DisposalFull, DisposalLossOfControl:
		return hundred, nil
	case DisposalPartial:
		if !in.Percentage.IsPositive() || in.Percentage.GreaterThan(hundred) {
			return decimal.Zero, fmt.Errorf("%w: partial percentage %s outside (0,100]", ErrInvalidDisposal, in.Percentage)
		}
		return in.Percentage, nil
	}
	return decimal.Zero, fmt.Errorf("%w: type %q", ErrInvalidDisposal, in.Type)
}
