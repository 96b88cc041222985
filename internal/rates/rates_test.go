package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

var (
	eurCup = model.Pair{From: "EUR", To: "CUP"}
	mlcCup = model.Pair{From: "MLC", To: "CUP"}
)

type mockProvider struct {
	mock.Mock
	source model.RateSource
}

func (m *mockProvider) Source() model.RateSource { return m.source }

func (m *mockProvider) Fetch(ctx context.Context, pair model.Pair) (decimal.Decimal, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(providers ...Provider) (*repository.MemoryRepository, *Resolver, *Updater) {
	store := repository.NewMemoryRepository()
	resolver := NewResolver(store, map[model.Pair]decimal.Decimal{
		eurCup: dec("1.1"),
		mlcCup: dec("0.8"),
	}, WithCache(NewMemoryCache(time.Minute)))
	updater := NewUpdater(store, resolver, providers, nil, nil)
	return store, resolver, updater
}

func TestResolvePriority(t *testing.T) {
	ctx := context.Background()
	primary := &mockProvider{source: model.RateSourcePrimary}
	secondary := &mockProvider{source: model.RateSourceSecondary}
	primary.On("Fetch", mock.Anything, BasePair).Return(dec("430"), nil).Once()
	secondary.On("Fetch", mock.Anything, BasePair).Return(dec("425"), nil).Once()

	_, resolver, updater := newFixture(primary, secondary)
	require.NoError(t, updater.Refresh(ctx, BasePair))

	res, err := resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.Equal(t, model.RateSourcePrimary, res.Source)
	assert.True(t, res.Rate.Equal(dec("430")))

	require.NoError(t, updater.SetManual(ctx, 1, BasePair, dec("435")))
	res, err = resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.Equal(t, model.RateSourceManual, res.Source, "manual override must invalidate the cached primary rate")
	assert.True(t, res.Rate.Equal(dec("435")))

	require.NoError(t, updater.ClearManual(ctx, 1, BasePair))
	res, err = resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.Equal(t, model.RateSourcePrimary, res.Source)

	primary.AssertExpectations(t)
	secondary.AssertExpectations(t)
}

func TestResolveSecondaryWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &mockProvider{source: model.RateSourcePrimary}
	secondary := &mockProvider{source: model.RateSourceSecondary}
	primary.On("Fetch", mock.Anything, BasePair).Return(decimal.Decimal{}, errors.New("timeout"))
	secondary.On("Fetch", mock.Anything, BasePair).Return(dec("425"), nil)

	_, resolver, updater := newFixture(primary, secondary)
	require.NoError(t, updater.Refresh(ctx, BasePair))

	res, err := resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.Equal(t, model.RateSourceSecondary, res.Source)
	assert.True(t, res.Rate.Equal(dec("425")))
}

func TestResolveFallbackFromBaseRate(t *testing.T) {
	ctx := context.Background()
	_, resolver, updater := newFixture()
	require.NoError(t, updater.SetManual(ctx, 1, BasePair, dec("400")))

	res, err := resolver.Resolve(ctx, eurCup)
	require.NoError(t, err)
	assert.Equal(t, model.RateSourceFallback, res.Source)
	assert.True(t, res.Rate.Equal(dec("440")), "got %s", res.Rate)

	res, err = resolver.Resolve(ctx, mlcCup)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("320")), "got %s", res.Rate)

	// Изменение базового курса сбрасывает производные пары.
	require.NoError(t, updater.SetManual(ctx, 1, BasePair, dec("500")))
	res, err = resolver.Resolve(ctx, eurCup)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("550")), "got %s", res.Rate)
}

func TestResolveUnavailable(t *testing.T) {
	ctx := context.Background()
	_, resolver, _ := newFixture()

	_, err := resolver.Resolve(ctx, BasePair)
	require.ErrorIs(t, err, model.ErrRateUnavailable)

	_, err = resolver.Resolve(ctx, eurCup)
	require.ErrorIs(t, err, model.ErrRateUnavailable)

	var domainErr *model.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "EUR-CUP", domainErr.Value)
}

func TestRefreshFailureKeepsPreviousRate(t *testing.T) {
	ctx := context.Background()
	primary := &mockProvider{source: model.RateSourcePrimary}
	primary.On("Fetch", mock.Anything, BasePair).Return(dec("430"), nil).Once()
	primary.On("Fetch", mock.Anything, BasePair).Return(decimal.Decimal{}, errors.New("down")).Once()

	_, resolver, updater := newFixture(primary)
	require.NoError(t, updater.Refresh(ctx, BasePair))
	require.Error(t, updater.Refresh(ctx, BasePair))

	res, err := resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("430")))
}

func TestHistoryWrittenOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	store, _, updater := newFixture()

	require.NoError(t, updater.SetManual(ctx, 7, BasePair, dec("400")))
	require.NoError(t, updater.SetManual(ctx, 7, BasePair, dec("400")))
	require.NoError(t, updater.SetManual(ctx, 7, BasePair, dec("410")))

	history, err := store.ListRateHistory(ctx, BasePair)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].PreviousRate.Equal(dec("400")))
	assert.True(t, history[0].NewRate.Equal(dec("410")))
	require.NotNil(t, history[0].ChangedBy)
	assert.Equal(t, int64(7), *history[0].ChangedBy)
}

func TestRefreshRoundsQuoteToStoredScale(t *testing.T) {
	ctx := context.Background()
	primary := &mockProvider{source: model.RateSourcePrimary}
	primary.On("Fetch", mock.Anything, BasePair).Return(dec("435.1234567"), nil).Once()
	primary.On("Fetch", mock.Anything, BasePair).Return(dec("435.12345671"), nil).Once()

	store, resolver, updater := newFixture(primary)
	require.NoError(t, updater.Refresh(ctx, BasePair))
	require.NoError(t, updater.Refresh(ctx, BasePair))

	records, err := store.ListExchangeRates(ctx, BasePair)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Rate.Equal(dec("435.123457")), "stored %s", records[0].Rate)

	history, err := store.ListRateHistory(ctx, BasePair)
	require.NoError(t, err)
	assert.Empty(t, history)

	res, err := resolver.Resolve(ctx, BasePair)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("435.123457")))
	primary.AssertExpectations(t)
}

func TestRefreshRejectsQuoteRoundingToZero(t *testing.T) {
	primary := &mockProvider{source: model.RateSourcePrimary}
	primary.On("Fetch", mock.Anything, BasePair).Return(dec("0.0000001"), nil).Once()

	store, _, updater := newFixture(primary)
	err := updater.Refresh(context.Background(), BasePair)
	require.ErrorIs(t, err, ErrRefreshFailed)

	records, err := store.ListExchangeRates(context.Background(), BasePair)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSetManualRejectsExcessScale(t *testing.T) {
	ctx := context.Background()
	store, _, updater := newFixture()

	err := updater.SetManual(ctx, 1, BasePair, dec("435.1234567"))
	require.ErrorIs(t, err, model.ErrValidation)

	records, err := store.ListExchangeRates(ctx, BasePair)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSetManualRejectsNonPositive(t *testing.T) {
	_, _, updater := newFixture()
	err := updater.SetManual(context.Background(), 1, BasePair, decimal.Zero)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, BasePair, Resolved{Pair: BasePair, Rate: dec("1")}))
	got, err := c.Get(ctx, BasePair)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Minute)
	got, err = c.Get(ctx, BasePair)
	require.NoError(t, err)
	assert.Nil(t, got)
}
