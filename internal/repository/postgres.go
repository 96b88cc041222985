// Package repository содержит реализации хранилища сервиса переводов: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// tiersLockKey: ключ advisory-блокировки, сериализующей изменения диапазонов комиссий.
const tiersLockKey int64 = 0x7469657273

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresRepository)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn, пока retryable признаёт ошибку временной.
func (r *PostgresRepository) withRetry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error
	delays := []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 300 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста, выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryableTxError отбирает ошибки, при которых транзакция гарантированно откатилась.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// isRetryableReadError дополнительно повторяет чтения после сетевых сбоев.
func isRetryableReadError(err error) bool {
	return isRetryableTxError(err) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции. Откат при ошибке fn, фиксация при успехе.
// Транзакция перезапускается целиком только после serialization failure или deadlock.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, isRetryableTxError, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)

// --- заказы

const remittanceColumns = `id, tracking_code, sender_name, sender_phone, beneficiary_name,
	beneficiary_phone, beneficiary_address, province_id, municipality_id, delivery_type,
	amount_sent, exchange_rate_applied, delivery_amount, delivery_currency,
	commission_percentage, commission_fixed, total_commission, total_charged,
	platform_commission, reseller_commission, state, courier_id, created_by, reseller_id,
	is_request, invoiced, created_at, approved_at, delivered_at, invoiced_at, cancelled_at,
	delivery_proof, notes`

func scanRemittance(row scanner) (*model.Remittance, error) {
	var (
		r                               model.Remittance
		deliveryType, currency, state   string
		platformCommission, resellerCut decimal.NullDecimal
	)

	err := row.Scan(
		&r.ID, &r.TrackingCode, &r.SenderName, &r.SenderPhone, &r.BeneficiaryName,
		&r.BeneficiaryPhone, &r.BeneficiaryAddress, &r.ProvinceID, &r.MunicipalityID, &deliveryType,
		&r.AmountSent, &r.ExchangeRateApplied, &r.DeliveryAmount, &currency,
		&r.CommissionPercentage, &r.CommissionFixed, &r.TotalCommission, &r.TotalCharged,
		&platformCommission, &resellerCut, &state, &r.CourierID, &r.CreatedBy, &r.ResellerID,
		&r.IsRequest, &r.Invoiced, &r.CreatedAt, &r.ApprovedAt, &r.DeliveredAt, &r.InvoicedAt, &r.CancelledAt,
		&r.DeliveryProof, &r.Notes,
	)
	if err != nil {
		return nil, err
	}

	r.DeliveryType = model.DeliveryType(deliveryType)
	r.DeliveryCurrency = model.Currency(currency)
	r.State = model.State(state)
	r.PlatformCommission = nullDecimalPtr(platformCommission)
	r.ResellerCommission = nullDecimalPtr(resellerCut)

	return &r, nil
}

func getRemittance(ctx context.Context, q querier, query string, arg any) (*model.Remittance, error) {
	r, err := scanRemittance(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRemittanceNotFound
		}
		return nil, fmt.Errorf("get remittance: %w", err)
	}
	return r, nil
}

// GetRemittance возвращает заказ по идентификатору.
func (r *PostgresRepository) GetRemittance(ctx context.Context, id int64) (*model.Remittance, error) {
	var res *model.Remittance
	err := r.withRetry(ctx, isRetryableReadError, func() error {
		var err error
		res, err = getRemittance(ctx, r.pool, `SELECT `+remittanceColumns+` FROM remittances WHERE id = $1`, id)
		return err
	})
	return res, err
}

// GetRemittanceByTrackingCode возвращает заказ по публичному коду отслеживания.
func (r *PostgresRepository) GetRemittanceByTrackingCode(ctx context.Context, code string) (*model.Remittance, error) {
	return getRemittance(ctx, r.pool, `SELECT `+remittanceColumns+` FROM remittances WHERE tracking_code = $1`, code)
}

// ListRemittances возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListRemittances(ctx context.Context, f RemittanceFilter) ([]model.Remittance, error) {
	var (
		where []string
		args  []any
	)
	if f.State != nil {
		args = append(args, string(*f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.CourierID != nil {
		args = append(args, *f.CourierID)
		where = append(where, fmt.Sprintf("courier_id = $%d", len(args)))
	}
	if f.ResellerID != nil {
		args = append(args, *f.ResellerID)
		where = append(where, fmt.Sprintf("reseller_id = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + remittanceColumns + ` FROM remittances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select remittances: %w", err)
	}
	defer rows.Close()

	var res []model.Remittance
	for rows.Next() {
		rem, err := scanRemittance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan remittance: %w", err)
		}
		res = append(res, *rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) GetRemittanceForUpdate(ctx context.Context, id int64) (*model.Remittance, error) {
	return getRemittance(ctx, t.q, `SELECT `+remittanceColumns+` FROM remittances WHERE id = $1 FOR UPDATE`, id)
}

// InsertRemittance сохраняет новый заказ. При совпадении кода отслеживания возвращает
// ошибку вида duplicate_tracking_code, не прерывая транзакцию.
func (t *pgTx) InsertRemittance(ctx context.Context, r *model.Remittance) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO remittances (
			tracking_code, sender_name, sender_phone, beneficiary_name, beneficiary_phone,
			beneficiary_address, province_id, municipality_id, delivery_type, amount_sent,
			exchange_rate_applied, delivery_amount, delivery_currency, commission_percentage,
			commission_fixed, total_commission, total_charged, platform_commission,
			reseller_commission, state, courier_id, created_by, reseller_id, is_request,
			invoiced, created_at, approved_at, delivered_at, invoiced_at, cancelled_at,
			delivery_proof, notes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32
		)
		ON CONFLICT (tracking_code) DO NOTHING
		RETURNING id`,
		r.TrackingCode, r.SenderName, r.SenderPhone, r.BeneficiaryName, r.BeneficiaryPhone,
		r.BeneficiaryAddress, r.ProvinceID, r.MunicipalityID, string(r.DeliveryType), r.AmountSent,
		r.ExchangeRateApplied, r.DeliveryAmount, string(r.DeliveryCurrency), r.CommissionPercentage,
		r.CommissionFixed, r.TotalCommission, r.TotalCharged, r.PlatformCommission,
		r.ResellerCommission, string(r.State), r.CourierID, r.CreatedBy, r.ResellerID, r.IsRequest,
		r.Invoiced, r.CreatedAt, r.ApprovedAt, r.DeliveredAt, r.InvoicedAt, r.CancelledAt,
		r.DeliveryProof, r.Notes,
	).Scan(&r.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Error{
				Kind:    model.KindDuplicateTrackingCode,
				Field:   "tracking_code",
				Value:   r.TrackingCode,
				Message: "tracking code already exists",
			}
		}
		return fmt.Errorf("insert remittance: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRemittance(ctx context.Context, r *model.Remittance) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE remittances
		 SET state = $2, courier_id = $3, invoiced = $4, approved_at = $5, delivered_at = $6,
		     invoiced_at = $7, cancelled_at = $8, delivery_proof = $9, notes = $10
		 WHERE id = $1`,
		r.ID, string(r.State), r.CourierID, r.Invoiced, r.ApprovedAt, r.DeliveredAt,
		r.InvoicedAt, r.CancelledAt, r.DeliveryProof, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("update remittance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRemittanceNotFound
	}
	return nil
}

// --- курьеры и кассовый журнал

const courierColumns = `id, name, active, balance_usd, balance_cup`

func scanCourier(row scanner) (*model.Courier, error) {
	var c model.Courier
	if err := row.Scan(&c.ID, &c.Name, &c.Active, &c.BalanceUSD, &c.BalanceCUP); err != nil {
		return nil, err
	}
	return &c, nil
}

func getCourier(ctx context.Context, q querier, query string, id int64) (*model.Courier, error) {
	c, err := scanCourier(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourierNotFound
		}
		return nil, fmt.Errorf("get courier: %w", err)
	}
	return c, nil
}

// GetCourier возвращает курьера с текущими остатками.
func (r *PostgresRepository) GetCourier(ctx context.Context, id int64) (*model.Courier, error) {
	return getCourier(ctx, r.pool, `SELECT `+courierColumns+` FROM staff WHERE id = $1 AND role = 'courier'`, id)
}

// ListCouriers возвращает всех курьеров.
func (r *PostgresRepository) ListCouriers(ctx context.Context) ([]model.Courier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courierColumns+` FROM staff WHERE role = 'courier' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select couriers: %w", err)
	}
	defer rows.Close()

	var res []model.Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan courier: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) GetCourierForUpdate(ctx context.Context, id int64) (*model.Courier, error) {
	// Блокируем строку курьера: все движения по его кассе выполняются последовательно.
	return getCourier(ctx, t.q, `SELECT `+courierColumns+` FROM staff WHERE id = $1 AND role = 'courier' FOR UPDATE`, id)
}

// InsertCourier создаёт курьера с нулевыми остатками.
func (t *pgTx) InsertCourier(ctx context.Context, c *model.Courier) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO staff (name, role, active) VALUES ($1, 'courier', $2) RETURNING id`,
		c.Name, c.Active,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert courier: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateCourier(ctx context.Context, c *model.Courier) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE staff SET name = $2, active = $3, balance_usd = $4, balance_cup = $5
		 WHERE id = $1 AND role = 'courier'`,
		c.ID, c.Name, c.Active, c.BalanceUSD, c.BalanceCUP,
	)
	if err != nil {
		return fmt.Errorf("update courier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCourierNotFound
	}
	return nil
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m *model.CashMovement) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO cash_movements (
			courier_id, kind, currency, amount, balance_before, balance_after, exchange_rate,
			remittance_id, linked_movement_id, notes, recorded_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		m.CourierID, string(m.Kind), string(m.Currency), m.Amount, m.BalanceBefore, m.BalanceAfter,
		m.ExchangeRate, m.RemittanceID, m.LinkedMovementID, m.Notes, m.RecordedBy, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert cash movement: %w", err)
	}
	return nil
}

// ListCashMovements возвращает журнал движений курьера в порядке записи.
func (r *PostgresRepository) ListCashMovements(ctx context.Context, courierID int64) ([]model.CashMovement, error) {
	return listCashMovements(ctx, r.pool, courierID)
}

// ListCashMovements читает журнал курьера в той же транзакции, что и блокировка курьера.
func (t *pgTx) ListCashMovements(ctx context.Context, courierID int64) ([]model.CashMovement, error) {
	return listCashMovements(ctx, t.q, courierID)
}

func listCashMovements(ctx context.Context, q querier, courierID int64) ([]model.CashMovement, error) {
	rows, err := q.Query(ctx,
		`SELECT id, courier_id, kind, currency, amount, balance_before, balance_after, exchange_rate,
		        remittance_id, linked_movement_id, notes, recorded_by, created_at
		 FROM cash_movements
		 WHERE courier_id = $1
		 ORDER BY id`,
		courierID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cash movements: %w", err)
	}
	defer rows.Close()

	var res []model.CashMovement
	for rows.Next() {
		var (
			m              model.CashMovement
			kind, currency string
			rate           decimal.NullDecimal
		)
		if err := rows.Scan(&m.ID, &m.CourierID, &kind, &currency, &m.Amount, &m.BalanceBefore,
			&m.BalanceAfter, &rate, &m.RemittanceID, &m.LinkedMovementID, &m.Notes, &m.RecordedBy,
			&m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cash movement: %w", err)
		}
		m.Kind = model.MovementKind(kind)
		m.Currency = model.Currency(currency)
		m.ExchangeRate = nullDecimalPtr(rate)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// --- реселлеры

const resellerColumns = `id, name, pending_balance, commission_rate, uses_logistics`

func getReseller(ctx context.Context, q querier, query string, id int64) (*model.Reseller, error) {
	var rs model.Reseller
	err := q.QueryRow(ctx, query, id).Scan(&rs.ID, &rs.Name, &rs.PendingBalance, &rs.CommissionRate, &rs.UsesLogistics)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResellerNotFound
		}
		return nil, fmt.Errorf("get reseller: %w", err)
	}
	return &rs, nil
}

// GetReseller возвращает реселлера с накопленной комиссией.
func (r *PostgresRepository) GetReseller(ctx context.Context, id int64) (*model.Reseller, error) {
	return getReseller(ctx, r.pool, `SELECT `+resellerColumns+` FROM staff WHERE id = $1 AND role = 'reseller'`, id)
}

func (t *pgTx) GetResellerForUpdate(ctx context.Context, id int64) (*model.Reseller, error) {
	return getReseller(ctx, t.q, `SELECT `+resellerColumns+` FROM staff WHERE id = $1 AND role = 'reseller' FOR UPDATE`, id)
}

// InsertReseller создаёт реселлера с нулевой накопленной комиссией.
func (t *pgTx) InsertReseller(ctx context.Context, rs *model.Reseller) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO staff (name, role, commission_rate, uses_logistics)
		 VALUES ($1, 'reseller', $2, $3) RETURNING id`,
		rs.Name, rs.CommissionRate, rs.UsesLogistics,
	).Scan(&rs.ID)
	if err != nil {
		return fmt.Errorf("insert reseller: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateReseller(ctx context.Context, rs *model.Reseller) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE staff SET name = $2, pending_balance = $3, commission_rate = $4, uses_logistics = $5
		 WHERE id = $1 AND role = 'reseller'`,
		rs.ID, rs.Name, rs.PendingBalance, rs.CommissionRate, rs.UsesLogistics,
	)
	if err != nil {
		return fmt.Errorf("update reseller: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResellerNotFound
	}
	return nil
}

func (t *pgTx) InsertResellerPayment(ctx context.Context, p *model.ResellerPayment) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO reseller_payments (
			reseller_id, amount, method, reference, notes, balance_before, balance_after,
			recorded_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.ResellerID, p.Amount, string(p.Method), p.Reference, p.Notes, p.BalanceBefore,
		p.BalanceAfter, p.RecordedBy, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert reseller payment: %w", err)
	}
	return nil
}

// ListResellerPayments возвращает историю выплат реселлеру.
func (r *PostgresRepository) ListResellerPayments(ctx context.Context, resellerID int64) ([]model.ResellerPayment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, reseller_id, amount, method, reference, notes, balance_before, balance_after,
		        recorded_by, created_at
		 FROM reseller_payments
		 WHERE reseller_id = $1
		 ORDER BY id`,
		resellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reseller payments: %w", err)
	}
	defer rows.Close()

	var res []model.ResellerPayment
	for rows.Next() {
		var (
			p      model.ResellerPayment
			method string
		)
		if err := rows.Scan(&p.ID, &p.ResellerID, &p.Amount, &method, &p.Reference, &p.Notes,
			&p.BalanceBefore, &p.BalanceAfter, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reseller payment: %w", err)
		}
		p.Method = model.PaymentMethod(method)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// --- бухгалтерский журнал

func (t *pgTx) InsertAccountingMovement(ctx context.Context, m *model.AccountingMovement) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO accounting_movements (kind, concept, amount, remittance_id, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		string(m.Kind), m.Concept, m.Amount, m.RemittanceID, m.RecordedBy, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert accounting movement: %w", err)
	}
	return nil
}

func accountingWhere(f AccountingFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if f.Kind != nil {
		args = append(args, string(*f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.RemittanceID != nil {
		args = append(args, *f.RemittanceID)
		where = append(where, fmt.Sprintf("remittance_id = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListAccountingMovements возвращает записи журнала по фильтру.
func (r *PostgresRepository) ListAccountingMovements(ctx context.Context, f AccountingFilter) ([]model.AccountingMovement, error) {
	where, args := accountingWhere(f)

	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, concept, amount, remittance_id, recorded_by, created_at
		 FROM accounting_movements`+where+` ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounting movements: %w", err)
	}
	defer rows.Close()

	var res []model.AccountingMovement
	for rows.Next() {
		var (
			m    model.AccountingMovement
			kind string
		)
		if err := rows.Scan(&m.ID, &kind, &m.Concept, &m.Amount, &m.RemittanceID, &m.RecordedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan accounting movement: %w", err)
		}
		m.Kind = model.AccountingKind(kind)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SummarizeAccounting возвращает сумму доходов, расходов и сальдо по фильтру.
func (r *PostgresRepository) SummarizeAccounting(ctx context.Context, f AccountingFilter) (model.AccountingSummary, error) {
	where, args := accountingWhere(f)

	var s model.AccountingSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount) FILTER (WHERE kind = 'income'), 0),
		        COALESCE(SUM(amount) FILTER (WHERE kind = 'expense'), 0)
		 FROM accounting_movements`+where,
		args...,
	).Scan(&s.Income, &s.Expense)
	if err != nil {
		return model.AccountingSummary{}, fmt.Errorf("sum accounting movements: %w", err)
	}

	s.Net = s.Income.Sub(s.Expense)
	return s, nil
}

// --- диапазоны комиссий

const tierColumns = `id, name, range_min, range_max, percentage, fixed_fee, active`

func listTiers(ctx context.Context, q querier) ([]model.CommissionTier, error) {
	rows, err := q.Query(ctx, `SELECT `+tierColumns+` FROM commission_tiers ORDER BY range_min, id`)
	if err != nil {
		return nil, fmt.Errorf("select tiers: %w", err)
	}
	defer rows.Close()

	var res []model.CommissionTier
	for rows.Next() {
		var (
			t        model.CommissionTier
			rangeMax decimal.NullDecimal
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.RangeMin, &rangeMax, &t.Percentage, &t.FixedFee, &t.Active); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		t.RangeMax = nullDecimalPtr(rangeMax)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListTiers возвращает все диапазоны комиссий.
func (r *PostgresRepository) ListTiers(ctx context.Context) ([]model.CommissionTier, error) {
	var res []model.CommissionTier
	err := r.withRetry(ctx, isRetryableReadError, func() error {
		var err error
		res, err = listTiers(ctx, r.pool)
		return err
	})
	return res, err
}

// LockTiers сериализует изменения диапазонов до конца транзакции и возвращает текущий набор.
func (t *pgTx) LockTiers(ctx context.Context) ([]model.CommissionTier, error) {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, tiersLockKey); err != nil {
		return nil, fmt.Errorf("lock tiers: %w", err)
	}
	return listTiers(ctx, t.q)
}

func (t *pgTx) InsertTier(ctx context.Context, tier *model.CommissionTier) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO commission_tiers (name, range_min, range_max, percentage, fixed_fee, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		tier.Name, tier.RangeMin, tier.RangeMax, tier.Percentage, tier.FixedFee, tier.Active,
	).Scan(&tier.ID)
	if err != nil {
		return fmt.Errorf("insert tier: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTier(ctx context.Context, tier *model.CommissionTier) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE commission_tiers
		 SET name = $2, range_min = $3, range_max = $4, percentage = $5, fixed_fee = $6, active = $7
		 WHERE id = $1`,
		tier.ID, tier.Name, tier.RangeMin, tier.RangeMax, tier.Percentage, tier.FixedFee, tier.Active,
	)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

// --- курсы валют

const rateColumns = `id, currency_pair, source, rate, active, updated_by, updated_at`

func scanRate(row scanner) (*model.ExchangeRate, error) {
	var (
		rate         model.ExchangeRate
		pair, source string
	)
	if err := row.Scan(&rate.ID, &pair, &source, &rate.Rate, &rate.Active, &rate.UpdatedBy, &rate.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := model.ParsePair(pair)
	if err != nil {
		return nil, fmt.Errorf("parse stored pair %q: %w", pair, err)
	}
	rate.Pair = p
	rate.Source = model.RateSource(source)
	return &rate, nil
}

// ListExchangeRates возвращает записи курса пары из всех источников.
func (r *PostgresRepository) ListExchangeRates(ctx context.Context, pair model.Pair) ([]model.ExchangeRate, error) {
	var res []model.ExchangeRate
	err := r.withRetry(ctx, isRetryableReadError, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+rateColumns+` FROM exchange_rates WHERE currency_pair = $1 ORDER BY id`,
			pair.String(),
		)
		if err != nil {
			return fmt.Errorf("select exchange rates: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			rate, err := scanRate(rows)
			if err != nil {
				return fmt.Errorf("scan exchange rate: %w", err)
			}
			res = append(res, *rate)
		}
		return rows.Err()
	})
	return res, err
}

func (t *pgTx) GetExchangeRateForUpdate(ctx context.Context, pair model.Pair, source model.RateSource) (*model.ExchangeRate, error) {
	rate, err := scanRate(t.q.QueryRow(ctx,
		`SELECT `+rateColumns+` FROM exchange_rates WHERE currency_pair = $1 AND source = $2 FOR UPDATE`,
		pair.String(), string(source),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}
	return rate, nil
}

func (t *pgTx) InsertExchangeRate(ctx context.Context, rate *model.ExchangeRate) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO exchange_rates (currency_pair, source, rate, active, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rate.Pair.String(), string(rate.Source), rate.Rate, rate.Active, rate.UpdatedBy, rate.UpdatedAt,
	).Scan(&rate.ID)
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateExchangeRate(ctx context.Context, rate *model.ExchangeRate) error {
	_, err := t.q.Exec(ctx,
		`UPDATE exchange_rates SET rate = $2, active = $3, updated_by = $4, updated_at = $5 WHERE id = $1`,
		rate.ID, rate.Rate, rate.Active, rate.UpdatedBy, rate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update exchange rate: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRateHistory(ctx context.Context, h *model.ExchangeRateHistory) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO exchange_rate_history (
			rate_id, currency_pair, source, previous_rate, new_rate, changed_by, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		h.RateID, h.Pair.String(), string(h.Source), h.PreviousRate, h.NewRate, h.ChangedBy, h.ChangedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert rate history: %w", err)
	}
	return nil
}

// ListRateHistory возвращает аудит изменений курса пары.
func (r *PostgresRepository) ListRateHistory(ctx context.Context, pair model.Pair) ([]model.ExchangeRateHistory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, rate_id, source, previous_rate, new_rate, changed_by, changed_at
		 FROM exchange_rate_history
		 WHERE currency_pair = $1
		 ORDER BY id`,
		pair.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select rate history: %w", err)
	}
	defer rows.Close()

	var res []model.ExchangeRateHistory
	for rows.Next() {
		var (
			h      model.ExchangeRateHistory
			source string
		)
		if err := rows.Scan(&h.ID, &h.RateID, &source, &h.PreviousRate, &h.NewRate, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan rate history: %w", err)
		}
		h.Pair = pair
		h.Source = model.RateSource(source)
		res = append(res, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func nullDecimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
