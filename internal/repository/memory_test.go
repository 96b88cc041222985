package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

var errBoom = errors.New("boom")

func newCourier(t *testing.T, repo *MemoryRepository) int64 {
	t.Helper()
	c := &model.Courier{Name: "courier", Active: true}
	require.NoError(t, repo.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertCourier(context.Background(), c)
	}))
	return c.ID
}

func TestMemoryRepositoryRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := newCourier(t, repo)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCourierForUpdate(ctx, id)
		if err != nil {
			return err
		}
		c.BalanceUSD = decimal.NewFromInt(100)
		if err := tx.UpdateCourier(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertCashMovement(ctx, &model.CashMovement{CourierID: id, Amount: decimal.NewFromInt(100)}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	c, err := repo.GetCourier(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.BalanceUSD.IsZero())

	movements, err := repo.ListCashMovements(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestMemoryRepositoryReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := newCourier(t, repo)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCourierForUpdate(ctx, id)
		require.NoError(t, err)
		c.BalanceCUP = decimal.NewFromInt(500)
		require.NoError(t, tx.UpdateCourier(ctx, c))

		again, err := tx.GetCourierForUpdate(ctx, id)
		require.NoError(t, err)
		assert.True(t, again.BalanceCUP.Equal(decimal.NewFromInt(500)))

		outside, err := repo.GetCourier(ctx, id)
		require.NoError(t, err)
		assert.True(t, outside.BalanceCUP.IsZero(), "uncommitted write must not be visible")
		return nil
	})
	require.NoError(t, err)

	c, err := repo.GetCourier(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.BalanceCUP.Equal(decimal.NewFromInt(500)))
}

func TestMemoryRepositoryTxListsStagedMovements(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := newCourier(t, repo)
	other := newCourier(t, repo)

	require.NoError(t, repo.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertCashMovement(ctx, &model.CashMovement{CourierID: id, Amount: decimal.NewFromInt(10)})
	}))

	err := repo.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCourierForUpdate(ctx, id); err != nil {
			return err
		}
		if err := tx.InsertCashMovement(ctx, &model.CashMovement{CourierID: id, Amount: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		if err := tx.InsertCashMovement(ctx, &model.CashMovement{CourierID: other, Amount: decimal.NewFromInt(7)}); err != nil {
			return err
		}

		movements, err := tx.ListCashMovements(ctx, id)
		require.NoError(t, err)
		require.Len(t, movements, 2)
		assert.True(t, movements[0].Amount.Equal(decimal.NewFromInt(10)))
		assert.True(t, movements[1].Amount.Equal(decimal.NewFromInt(5)))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	movements, err := repo.ListCashMovements(ctx, id)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestMemoryRepositorySerializesRowLocks(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := newCourier(t, repo)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := repo.WithinTx(ctx, func(tx Tx) error {
				c, err := tx.GetCourierForUpdate(ctx, id)
				if err != nil {
					return err
				}
				c.BalanceUSD = c.BalanceUSD.Add(decimal.NewFromInt(1))
				return tx.UpdateCourier(ctx, c)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := repo.GetCourier(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.BalanceUSD.Equal(decimal.NewFromInt(workers)), "got %s", c.BalanceUSD)
}

func TestMemoryRepositoryDuplicateTrackingCode(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	insert := func() error {
		return repo.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertRemittance(ctx, &model.Remittance{TrackingCode: "RM0000000000", CreatedAt: time.Now()})
		})
	}

	require.NoError(t, insert())
	err := insert()
	require.ErrorIs(t, err, model.ErrDuplicateTrackingCode)

	var domainErr *model.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "tracking_code", domainErr.Field)
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.GetRemittance(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrRemittanceNotFound)

	err = repo.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.GetResellerForUpdate(ctx, 7)
		return err
	})
	assert.ErrorIs(t, err, ErrResellerNotFound)
}

func TestMemoryRepositoryAccountingSummary(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []model.AccountingMovement{
		{Kind: model.AccountingIncome, Concept: "a", Amount: decimal.NewFromInt(105), CreatedAt: base},
		{Kind: model.AccountingIncome, Concept: "b", Amount: decimal.NewFromInt(50), CreatedAt: base.Add(time.Hour)},
		{Kind: model.AccountingExpense, Concept: "c", Amount: decimal.NewFromInt(30), CreatedAt: base.Add(2 * time.Hour)},
		{Kind: model.AccountingExpense, Concept: "d", Amount: decimal.NewFromInt(1000), CreatedAt: base.Add(48 * time.Hour)},
	}
	require.NoError(t, repo.WithinTx(ctx, func(tx Tx) error {
		for i := range entries {
			if err := tx.InsertAccountingMovement(ctx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	}))

	to := base.Add(24 * time.Hour)
	sum, err := repo.SummarizeAccounting(ctx, AccountingFilter{From: &base, To: &to})
	require.NoError(t, err)
	assert.True(t, sum.Income.Equal(decimal.NewFromInt(155)))
	assert.True(t, sum.Expense.Equal(decimal.NewFromInt(30)))
	assert.True(t, sum.Net.Equal(decimal.NewFromInt(125)))

	income := model.AccountingIncome
	list, err := repo.ListAccountingMovements(ctx, AccountingFilter{Kind: &income})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Concept)
}

func TestMemoryRepositoryTiersOrderedByRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertTier(ctx, &model.CommissionTier{Name: "high", RangeMin: decimal.NewFromInt(500), Active: true}); err != nil {
			return err
		}
		staged, err := tx.LockTiers(ctx)
		require.NoError(t, err)
		require.Len(t, staged, 1)

		upper := decimal.NewFromInt(500)
		return tx.InsertTier(ctx, &model.CommissionTier{Name: "low", RangeMin: decimal.Zero, RangeMax: &upper, Active: true})
	}))

	tiers, err := repo.ListTiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "low", tiers[0].Name)
	assert.Equal(t, "high", tiers[1].Name)
}
