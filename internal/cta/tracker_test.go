package cta

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	rows      map[Key]Row
	disposals []Disposal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[Key]Row)}
}

func (m *memoryStore) Latest(_ context.Context, key Key) (Row, bool, error) {
	var (
		best  Row
		found bool
	)
	for k, r := range m.rows {
		if k.EntityID != key.EntityID || k.LedgerID != key.LedgerID || k.Standard != key.Standard || !k.Before(key) {
			continue
		}
		if !found || best.Key.Before(k) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (m *memoryStore) Get(_ context.Context, key Key) (Row, bool, error) {
	r, ok := m.rows[key]
	return r, ok, nil
}

func (m *memoryStore) Save(_ context.Context, row Row) error {
	m.rows[row.Key] = row
	return nil
}

func (m *memoryStore) Disposed(_ context.Context, key Key) (bool, error) {
	for k, r := range m.rows {
		if k.EntityID == key.EntityID && k.LedgerID == key.LedgerID && k.Standard == key.Standard && r.Disposed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) RecordDisposal(_ context.Context, d Disposal) error {
	m.disposals = append(m.disposals, d)
	return nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func key(fy, fp int) Key {
	return Key{EntityID: "1000", LedgerID: "L1", Standard: StandardIFRS, FiscalYear: fy, FiscalPeriod: fp}
}

func TestRollForwardChainsClosingIntoOpening(t *testing.T) {
	store := newMemoryStore()
	store.rows[key(2025, 2)] = Row{Key: key(2025, 2), Closing: dec("1000")}
	tracker := NewTracker(store, nil)

	march, err := tracker.RollForward(context.Background(), key(2025, 3), Components{Asset: dec("-200"), Liability: dec("80"), Equity: dec("-30")})
	require.NoError(t, err)
	require.True(t, march.Opening.Equal(dec("1000")))
	require.True(t, march.Movement.Equal(dec("-150")))
	require.True(t, march.Closing.Equal(dec("850")))

	april, err := tracker.RollForward(context.Background(), key(2025, 4), Components{Asset: dec("-200"), Liability: dec("80"), Equity: dec("-30"), Hedge: dec("25")})
	require.NoError(t, err)
	require.True(t, april.Opening.Equal(march.Closing))
	require.True(t, april.Components.Asset.IsZero())
	require.True(t, april.Components.Hedge.Equal(dec("25")))
	require.True(t, april.Closing.Equal(dec("875")))
}

func TestRollForwardUnchangedAccumulationHasNoMovement(t *testing.T) {
	tracker := NewTracker(newMemoryStore(), nil)
	acc := Components{Asset: dec("-20"), Equity: dec("-30")}
	march, err := tracker.RollForward(context.Background(), key(2025, 3), acc)
	require.NoError(t, err)
	require.True(t, march.Closing.Equal(dec("-50")))

	april, err := tracker.RollForward(context.Background(), key(2025, 4), acc)
	require.NoError(t, err)
	require.True(t, april.Movement.IsZero(), april.Movement.String())
	require.True(t, april.Closing.Equal(dec("-50")), april.Closing.String())
	require.Equal(t, acc, april.Accumulated)
}

func TestCarryKeepsPriorAccumulation(t *testing.T) {
	store := newMemoryStore()
	tracker := NewTracker(store, nil)
	acc := Components{Asset: dec("40")}
	_, err := tracker.RollForward(context.Background(), key(2025, 3), acc)
	require.NoError(t, err)

	april, err := tracker.Carry(context.Background(), key(2025, 4))
	require.NoError(t, err)
	require.True(t, april.Movement.IsZero())
	require.True(t, april.Closing.Equal(dec("40")))
	require.Equal(t, acc, april.Accumulated)

	// the next translated period measures against the carried accumulation
	may, err := tracker.RollForward(context.Background(), key(2025, 5), Components{Asset: dec("55")})
	require.NoError(t, err)
	require.True(t, may.Movement.Equal(dec("15")), may.Movement.String())
	require.True(t, may.Closing.Equal(dec("55")))
}

func TestRollForwardFirstPeriodOpensAtZero(t *testing.T) {
	tracker := NewTracker(newMemoryStore(), nil)
	row, err := tracker.RollForward(context.Background(), key(2025, 1), Components{Asset: dec("12.5")})
	require.NoError(t, err)
	require.True(t, row.Opening.IsZero())
	require.True(t, row.Closing.Equal(dec("12.5")))
}

func TestRollForwardIsolatedByStandard(t *testing.T) {
	store := newMemoryStore()
	gaap := key(2025, 2)
	gaap.Standard = StandardUSGAAP
	store.rows[gaap] = Row{Key: gaap, Closing: dec("500")}
	row, err := NewTracker(store, nil).RollForward(context.Background(), key(2025, 3), Components{})
	require.NoError(t, err)
	require.True(t, row.Opening.IsZero())
}

func TestFullDisposalRecyclesOnce(t *testing.T) {
	store := newMemoryStore()
	tracker := NewTracker(store, nil)
	acc := Components{Asset: dec("2400")}
	store.rows[key(2025, 5)] = Row{Key: key(2025, 5), Closing: dec("2400"), Accumulated: acc}

	_, err := tracker.RollForward(context.Background(), key(2025, 6), acc)
	require.NoError(t, err)
	d, err := tracker.Dispose(context.Background(), DisposalInput{Key: key(2025, 6), Type: DisposalFull})
	require.NoError(t, err)
	require.True(t, d.Recycled.Equal(dec("2400")))

	june := store.rows[key(2025, 6)]
	require.True(t, june.Closing.IsZero())
	require.True(t, june.RecycledToPnL.Equal(dec("2400")))
	require.True(t, june.Closing.Equal(june.Opening.Add(june.Movement)))

	// re-running the period must not resurrect the recycled amount
	june, err = tracker.RollForward(context.Background(), key(2025, 6), acc)
	require.NoError(t, err)
	require.True(t, june.Closing.IsZero())

	// an unchanged accumulation must not bring the recycled amount back
	july, err := tracker.RollForward(context.Background(), key(2025, 7), acc)
	require.NoError(t, err)
	require.True(t, july.Opening.IsZero(), july.Opening.String())
	require.True(t, july.Closing.IsZero(), july.Closing.String())

	_, err = tracker.Dispose(context.Background(), DisposalInput{Key: key(2025, 7), Type: DisposalFull})
	require.ErrorIs(t, err, ErrAlreadyDisposed)
}

func TestPartialDisposalRecyclesPercentage(t *testing.T) {
	store := newMemoryStore()
	tracker := NewTracker(store, nil)
	store.rows[key(2025, 2)] = Row{Key: key(2025, 2), Closing: dec("1000")}

	d, err := tracker.Dispose(context.Background(), DisposalInput{Key: key(2025, 3), Type: DisposalPartial, Percentage: dec("25")})
	require.NoError(t, err)
	require.True(t, d.Recycled.Equal(dec("250")))
	row := store.rows[key(2025, 3)]
	require.True(t, row.Closing.Equal(dec("750")))
	require.False(t, row.Disposed)

	_, err = tracker.Dispose(context.Background(), DisposalInput{Key: key(2025, 3), Type: DisposalPartial, Percentage: dec("120")})
	require.ErrorIs(t, err, ErrInvalidDisposal)
	require.Len(t, store.disposals, 1)
}
