package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// MemoryRepository реализует in-memory хранилище для тестов и локального запуска.
// Транзакции блокируют записи по ключу до фиксации, изменения копятся и
// применяются разом при успешном завершении fn.
type MemoryRepository struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   map[string]int64

	remittances map[int64]model.Remittance
	codes       map[string]int64
	couriers    map[int64]model.Courier
	resellers   map[int64]model.Reseller
	tiers       map[int64]model.CommissionTier
	rates       map[int64]model.ExchangeRate

	movements  []model.CashMovement
	payments   []model.ResellerPayment
	accounting []model.AccountingMovement
	history    []model.ExchangeRateHistory
}

var _ Store = (*MemoryRepository)(nil)

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks:       make(map[string]*sync.Mutex),
		seq:         make(map[string]int64),
		remittances: make(map[int64]model.Remittance),
		codes:       make(map[string]int64),
		couriers:    make(map[int64]model.Courier),
		resellers:   make(map[int64]model.Reseller),
		tiers:       make(map[int64]model.CommissionTier),
		rates:       make(map[int64]model.ExchangeRate),
	}
}

// Close ничего не освобождает.
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) nextID(table string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[table]++
	return r.seq[table]
}

func (r *MemoryRepository) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// WithinTx выполняет fn с отложенной фиксацией изменений.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		repo:        r,
		held:        make(map[string]*sync.Mutex),
		remittances: make(map[int64]model.Remittance),
		codes:       make(map[string]int64),
		couriers:    make(map[int64]model.Courier),
		resellers:   make(map[int64]model.Reseller),
		tiers:       make(map[int64]model.CommissionTier),
		rates:       make(map[int64]model.ExchangeRate),
	}
	defer tx.release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memTx struct {
	repo *MemoryRepository
	held map[string]*sync.Mutex

	remittances map[int64]model.Remittance
	codes       map[string]int64
	couriers    map[int64]model.Courier
	resellers   map[int64]model.Reseller
	tiers       map[int64]model.CommissionTier
	rates       map[int64]model.ExchangeRate

	movements  []model.CashMovement
	payments   []model.ResellerPayment
	accounting []model.AccountingMovement
	history    []model.ExchangeRateHistory
}

var _ Tx = (*memTx)(nil)

// lock захватывает блокировку ключа до конца транзакции. Повторный захват в той же
// транзакции не блокирует.
func (t *memTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	l := t.repo.keyLock(key)
	l.Lock()
	t.held[key] = l
}

func (t *memTx) release() {
	for key, l := range t.held {
		l.Unlock()
		delete(t.held, key)
	}
}

func (t *memTx) commit() {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, v := range t.remittances {
		r.remittances[id] = v
	}
	for code, id := range t.codes {
		r.codes[code] = id
	}
	for id, v := range t.couriers {
		r.couriers[id] = v
	}
	for id, v := range t.resellers {
		r.resellers[id] = v
	}
	for id, v := range t.tiers {
		r.tiers[id] = v
	}
	for id, v := range t.rates {
		r.rates[id] = v
	}
	r.movements = append(r.movements, t.movements...)
	r.payments = append(r.payments, t.payments...)
	r.accounting = append(r.accounting, t.accounting...)
	r.history = append(r.history, t.history...)
}

// --- заказы

func (r *MemoryRepository) GetRemittance(_ context.Context, id int64) (*model.Remittance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.remittances[id]
	if !ok {
		return nil, ErrRemittanceNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) GetRemittanceByTrackingCode(ctx context.Context, code string) (*model.Remittance, error) {
	r.mu.Lock()
	id, ok := r.codes[code]
	r.mu.Unlock()
	if !ok {
		return nil, ErrRemittanceNotFound
	}
	return r.GetRemittance(ctx, id)
}

func (r *MemoryRepository) ListRemittances(_ context.Context, f RemittanceFilter) ([]model.Remittance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Remittance
	for _, v := range r.remittances {
		if f.State != nil && v.State != *f.State {
			continue
		}
		if f.CourierID != nil && (v.CourierID == nil || *v.CourierID != *f.CourierID) {
			continue
		}
		if f.ResellerID != nil && (v.ResellerID == nil || *v.ResellerID != *f.ResellerID) {
			continue
		}
		res = append(res, v)
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (t *memTx) GetRemittanceForUpdate(_ context.Context, id int64) (*model.Remittance, error) {
	t.lock(fmt.Sprintf("remittance:%d", id))
	if v, ok := t.remittances[id]; ok {
		return &v, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.remittances[id]
	if !ok {
		return nil, ErrRemittanceNotFound
	}
	return &v, nil
}

func (t *memTx) InsertRemittance(_ context.Context, rem *model.Remittance) error {
	t.lock("code:" + rem.TrackingCode)

	t.repo.mu.Lock()
	_, exists := t.repo.codes[rem.TrackingCode]
	t.repo.mu.Unlock()
	if _, staged := t.codes[rem.TrackingCode]; exists || staged {
		return &model.Error{
			Kind:    model.KindDuplicateTrackingCode,
			Field:   "tracking_code",
			Value:   rem.TrackingCode,
			Message: "tracking code already exists",
		}
	}

	rem.ID = t.repo.nextID("remittances")
	t.remittances[rem.ID] = *rem
	t.codes[rem.TrackingCode] = rem.ID
	return nil
}

func (t *memTx) UpdateRemittance(ctx context.Context, rem *model.Remittance) error {
	if _, err := t.GetRemittanceForUpdate(ctx, rem.ID); err != nil {
		return err
	}
	t.remittances[rem.ID] = *rem
	return nil
}

// --- курьеры

func (r *MemoryRepository) GetCourier(_ context.Context, id int64) (*model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.couriers[id]
	if !ok {
		return nil, ErrCourierNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) ListCouriers(_ context.Context) ([]model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.Courier, 0, len(r.couriers))
	for _, v := range r.couriers {
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *MemoryRepository) ListCashMovements(_ context.Context, courierID int64) ([]model.CashMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.CashMovement
	for _, m := range r.movements {
		if m.CourierID == courierID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *memTx) GetCourierForUpdate(_ context.Context, id int64) (*model.Courier, error) {
	t.lock(fmt.Sprintf("staff:%d", id))
	if v, ok := t.couriers[id]; ok {
		return &v, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.couriers[id]
	if !ok {
		return nil, ErrCourierNotFound
	}
	return &v, nil
}

func (t *memTx) InsertCourier(_ context.Context, c *model.Courier) error {
	c.ID = t.repo.nextID("staff")
	c.BalanceUSD = decimal.Zero
	c.BalanceCUP = decimal.Zero
	t.couriers[c.ID] = *c
	return nil
}

func (t *memTx) UpdateCourier(ctx context.Context, c *model.Courier) error {
	if _, err := t.GetCourierForUpdate(ctx, c.ID); err != nil {
		return err
	}
	t.couriers[c.ID] = *c
	return nil
}

// ListCashMovements возвращает зафиксированные и ещё не зафиксированные движения курьера.
func (t *memTx) ListCashMovements(ctx context.Context, courierID int64) ([]model.CashMovement, error) {
	res, err := t.repo.ListCashMovements(ctx, courierID)
	if err != nil {
		return nil, err
	}
	for _, m := range t.movements {
		if m.CourierID == courierID {
			res = append(res, m)
		}
	}
	return res, nil
}

func (t *memTx) InsertCashMovement(_ context.Context, m *model.CashMovement) error {
	m.ID = t.repo.nextID("cash_movements")
	t.movements = append(t.movements, *m)
	return nil
}

// --- реселлеры

func (r *MemoryRepository) GetReseller(_ context.Context, id int64) (*model.Reseller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.resellers[id]
	if !ok {
		return nil, ErrResellerNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) ListResellerPayments(_ context.Context, resellerID int64) ([]model.ResellerPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.ResellerPayment
	for _, p := range r.payments {
		if p.ResellerID == resellerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *memTx) GetResellerForUpdate(_ context.Context, id int64) (*model.Reseller, error) {
	t.lock(fmt.Sprintf("staff:%d", id))
	if v, ok := t.resellers[id]; ok {
		return &v, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.resellers[id]
	if !ok {
		return nil, ErrResellerNotFound
	}
	return &v, nil
}

func (t *memTx) InsertReseller(_ context.Context, rs *model.Reseller) error {
	rs.ID = t.repo.nextID("staff")
	rs.PendingBalance = decimal.Zero
	t.resellers[rs.ID] = *rs
	return nil
}

func (t *memTx) UpdateReseller(ctx context.Context, rs *model.Reseller) error {
	if _, err := t.GetResellerForUpdate(ctx, rs.ID); err != nil {
		return err
	}
	t.resellers[rs.ID] = *rs
	return nil
}

func (t *memTx) InsertResellerPayment(_ context.Context, p *model.ResellerPayment) error {
	p.ID = t.repo.nextID("reseller_payments")
	t.payments = append(t.payments, *p)
	return nil
}

// --- бухгалтерский журнал

func (t *memTx) InsertAccountingMovement(_ context.Context, m *model.AccountingMovement) error {
	m.ID = t.repo.nextID("accounting_movements")
	t.accounting = append(t.accounting, *m)
	return nil
}

func matchAccounting(m model.AccountingMovement, f AccountingFilter) bool {
	if f.From != nil && m.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !m.CreatedAt.Before(*f.To) {
		return false
	}
	if f.Kind != nil && m.Kind != *f.Kind {
		return false
	}
	if f.RemittanceID != nil && (m.RemittanceID == nil || *m.RemittanceID != *f.RemittanceID) {
		return false
	}
	return true
}

func (r *MemoryRepository) ListAccountingMovements(_ context.Context, f AccountingFilter) ([]model.AccountingMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.AccountingMovement
	for _, m := range r.accounting {
		if matchAccounting(m, f) {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (r *MemoryRepository) SummarizeAccounting(ctx context.Context, f AccountingFilter) (model.AccountingSummary, error) {
	movements, err := r.ListAccountingMovements(ctx, f)
	if err != nil {
		return model.AccountingSummary{}, err
	}

	var s model.AccountingSummary
	for _, m := range movements {
		if m.Kind == model.AccountingIncome {
			s.Income = s.Income.Add(m.Amount)
		} else {
			s.Expense = s.Expense.Add(m.Amount)
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	return s, nil
}

// --- диапазоны комиссий

func (r *MemoryRepository) ListTiers(_ context.Context) ([]model.CommissionTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedTiers(r.tiers, nil), nil
}

func sortedTiers(committed, staged map[int64]model.CommissionTier) []model.CommissionTier {
	res := make([]model.CommissionTier, 0, len(committed)+len(staged))
	for id, v := range committed {
		if s, ok := staged[id]; ok {
			v = s
		}
		res = append(res, v)
	}
	for id, v := range staged {
		if _, ok := committed[id]; !ok {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].RangeMin.Equal(res[j].RangeMin) {
			return res[i].RangeMin.LessThan(res[j].RangeMin)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (t *memTx) LockTiers(_ context.Context) ([]model.CommissionTier, error) {
	t.lock("tiers")
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return sortedTiers(t.repo.tiers, t.tiers), nil
}

func (t *memTx) InsertTier(_ context.Context, tier *model.CommissionTier) error {
	tier.ID = t.repo.nextID("commission_tiers")
	t.tiers[tier.ID] = *tier
	return nil
}

func (t *memTx) UpdateTier(_ context.Context, tier *model.CommissionTier) error {
	if _, ok := t.tiers[tier.ID]; !ok {
		t.repo.mu.Lock()
		_, ok = t.repo.tiers[tier.ID]
		t.repo.mu.Unlock()
		if !ok {
			return ErrTierNotFound
		}
	}
	t.tiers[tier.ID] = *tier
	return nil
}

// --- курсы валют

func (r *MemoryRepository) ListExchangeRates(_ context.Context, pair model.Pair) ([]model.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.ExchangeRate
	for _, v := range r.rates {
		if v.Pair == pair {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *memTx) GetExchangeRateForUpdate(_ context.Context, pair model.Pair, source model.RateSource) (*model.ExchangeRate, error) {
	t.lock("rate:" + pair.String() + ":" + string(source))
	for _, v := range t.rates {
		if v.Pair == pair && v.Source == source {
			return &v, nil
		}
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, v := range t.repo.rates {
		if v.Pair == pair && v.Source == source {
			return &v, nil
		}
	}
	return nil, ErrRateNotFound
}

func (t *memTx) InsertExchangeRate(_ context.Context, rate *model.ExchangeRate) error {
	rate.ID = t.repo.nextID("exchange_rates")
	t.rates[rate.ID] = *rate
	return nil
}

func (t *memTx) UpdateExchangeRate(_ context.Context, rate *model.ExchangeRate) error {
	t.rates[rate.ID] = *rate
	return nil
}

func (t *memTx) InsertRateHistory(_ context.Context, h *model.ExchangeRateHistory) error {
	h.ID = t.repo.nextID("exchange_rate_history")
	t.history = append(t.history, *h)
	return nil
}

func (r *MemoryRepository) ListRateHistory(_ context.Context, pair model.Pair) ([]model.ExchangeRateHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.ExchangeRateHistory
	for _, h := range r.history {
		if h.Pair == pair {
			res = append(res, h)
		}
	}
	return res, nil
}
