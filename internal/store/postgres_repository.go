/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. All SQL the
 * billing-service runs lives here: commission facts, balance rows, invoices,
 * payments, payouts, offsets and webhook dedupe rows.
 *
 * @notes
 * - Idempotency is enforced by the schema: a unique index on
 *   commission_facts(job_id, recipient role) rejects double commission
 *   recording, and a partial unique index on invoices(professional_id, month,
 *   year) WHERE status <> 'cancelled' rejects duplicate period invoices.
 *   Unique violations are translated to the sentinel errors in repository.go.
 * - Balance mutations update outstanding/pending and net_balance in a single
 *   statement so the derived column can never drift from its sources.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/proflink/billing-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const factColumns = `id, job_id, payer_professional_id, job_value, commission_type, rate, amount,
       recipient_id, recipient_type, chain_level, status, invoice_id, COALESCE(description, '') AS description, recorded_at`

func scanFact(row pgx.Row) (*domain.CommissionFact, error) {
	var f domain.CommissionFact
	err := row.Scan(
		&f.ID, &f.JobID, &f.PayerProfessionalID, &f.JobValue, &f.CommissionType, &f.Rate,
		&f.Amount, &f.RecipientID, &f.RecipientType, &f.ChainLevel, &f.Status, &f.InvoiceID,
		&f.Description, &f.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *PostgresRepository) queryFacts(ctx context.Context, query string, args ...interface{}) ([]domain.CommissionFact, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []domain.CommissionFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}

// CreateCommissionFacts persists all facts for one job in a single transaction.
// Either the full set is written or none of it is; a unique violation on job_id
// is reported as ErrDuplicateCommission.
func (r *PostgresRepository) CreateCommissionFacts(ctx context.Context, facts []domain.CommissionFact) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO commission_facts
			(id, job_id, payer_professional_id, job_value, commission_type, rate, amount,
			 recipient_id, recipient_type, chain_level, status, description, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, f := range facts {
		_, err := tx.Exec(ctx, query,
			f.ID, f.JobID, f.PayerProfessionalID, f.JobValue, f.CommissionType, f.Rate,
			f.Amount, f.RecipientID, f.RecipientType, f.ChainLevel, f.Status, f.Description, f.RecordedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateCommission
			}
			return err
		}
	}

	return tx.Commit(ctx)
}

// FindFactsByJobID returns all commission facts recorded for a job.
func (r *PostgresRepository) FindFactsByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts WHERE job_id = $1 ORDER BY chain_level, recipient_type`
	return r.queryFacts(ctx, query, jobID)
}

// FindFactsByProfessional returns facts where the professional is payer or recipient.
func (r *PostgresRepository) FindFactsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts
		WHERE payer_professional_id = $1 OR recipient_id = $1
		ORDER BY recorded_at DESC`
	return r.queryFacts(ctx, query, professionalID)
}

// FindUnpaidFacts returns facts owed by a professional that have not reached 'paid'.
func (r *PostgresRepository) FindUnpaidFacts(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts
		WHERE payer_professional_id = $1 AND status <> $2
		ORDER BY recorded_at`
	return r.queryFacts(ctx, query, professionalID, domain.FactStatusPaid)
}

// FindUninvoicedPlatformFacts returns the facts a settlement run may invoice:
// platform-recipient facts still in 'recorded'.
func (r *PostgresRepository) FindUninvoicedPlatformFacts(ctx context.Context, professionalID uuid.UUID) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts
		WHERE payer_professional_id = $1 AND recipient_type = $2 AND status = $3
		ORDER BY recorded_at`
	return r.queryFacts(ctx, query, professionalID, domain.RecipientTypePlatform, domain.FactStatusRecorded)
}

// FindMonthlyFacts returns a professional's facts recorded inside one calendar month.
func (r *PostgresRepository) FindMonthlyFacts(ctx context.Context, professionalID uuid.UUID, month, year int) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts
		WHERE payer_professional_id = $1
		  AND EXTRACT(MONTH FROM recorded_at) = $2
		  AND EXTRACT(YEAR FROM recorded_at) = $3
		ORDER BY recorded_at`
	return r.queryFacts(ctx, query, professionalID, month, year)
}

// FindFactsByInvoiceID returns the line-item facts of an invoice.
func (r *PostgresRepository) FindFactsByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]domain.CommissionFact, error) {
	query := `SELECT ` + factColumns + ` FROM commission_facts WHERE invoice_id = $1 ORDER BY recorded_at`
	return r.queryFacts(ctx, query, invoiceID)
}

// MarkFactsInvoiced transitions facts recorded -> invoiced. Any fact not in
// 'recorded' makes the whole call fail with ErrInvalidStateTransition.
func (r *PostgresRepository) MarkFactsInvoiced(ctx context.Context, factIDs []uuid.UUID, invoiceID uuid.UUID) error {
	return r.transitionFacts(ctx, factIDs, domain.FactStatusRecorded, domain.FactStatusInvoiced, &invoiceID, nil)
}

// MarkFactsPaid transitions facts invoiced -> paid.
func (r *PostgresRepository) MarkFactsPaid(ctx context.Context, factIDs []uuid.UUID, paymentID uuid.UUID) error {
	return r.transitionFacts(ctx, factIDs, domain.FactStatusInvoiced, domain.FactStatusPaid, nil, &paymentID)
}

func (r *PostgresRepository) transitionFacts(ctx context.Context, factIDs []uuid.UUID, fromStatus, toStatus string, invoiceID, paymentID *uuid.UUID) error {
	if len(factIDs) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tag pgconn.CommandTag
	if invoiceID != nil {
		tag, err = tx.Exec(ctx, `
			UPDATE commission_facts SET status = $1, invoice_id = $2
			WHERE id = ANY($3) AND status = $4
		`, toStatus, *invoiceID, factIDs, fromStatus)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE commission_facts SET status = $1, payment_id = $2
			WHERE id = ANY($3) AND status = $4
		`, toStatus, *paymentID, factIDs, fromStatus)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(factIDs)) {
		// At least one fact was missing or not in the expected status; the
		// rollback keeps the transition all-or-nothing.
		return ErrInvalidStateTransition
	}

	return tx.Commit(ctx)
}

const balanceColumns = `professional_id, outstanding_commissions, pending_revenue_shares, net_balance,
       autopay_enabled, autopay_payment_method_id, autopay_failure_count, autopay_next_attempt_at, last_updated`

func scanBalance(row pgx.Row) (*domain.Balance, error) {
	var b domain.Balance
	err := row.Scan(
		&b.ProfessionalID, &b.OutstandingCommissions, &b.PendingRevenueShares, &b.NetBalance,
		&b.AutopayEnabled, &b.AutopayPaymentMethodID, &b.AutopayFailureCount, &b.AutopayNextAttemptAt, &b.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBalance returns a professional's balance row, or ErrBalanceNotFound.
func (r *PostgresRepository) GetBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE professional_id = $1`
	b, err := scanBalance(r.db.QueryRow(ctx, query, professionalID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return b, nil
}

// EnsureBalance lazily creates the zeroed balance row on first reference.
func (r *PostgresRepository) EnsureBalance(ctx context.Context, professionalID uuid.UUID) (*domain.Balance, error) {
	query := `
		INSERT INTO balances (professional_id, outstanding_commissions, pending_revenue_shares, net_balance, last_updated)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (professional_id) DO UPDATE SET professional_id = EXCLUDED.professional_id
		RETURNING ` + balanceColumns
	return scanBalance(r.db.QueryRow(ctx, query, professionalID))
}

// AddCommissionDebt increments outstanding_commissions and recomputes net_balance.
func (r *PostgresRepository) AddCommissionDebt(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	query := `
		INSERT INTO balances (professional_id, outstanding_commissions, pending_revenue_shares, net_balance, last_updated)
		VALUES ($1, $2, 0, -$2, NOW())
		ON CONFLICT (professional_id) DO UPDATE SET
			outstanding_commissions = balances.outstanding_commissions + $2,
			net_balance = balances.pending_revenue_shares - (balances.outstanding_commissions + $2),
			last_updated = NOW()
		RETURNING ` + balanceColumns
	return scanBalance(r.db.QueryRow(ctx, query, professionalID, amount))
}

// AddRevenueShare increments pending_revenue_shares and recomputes net_balance.
func (r *PostgresRepository) AddRevenueShare(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	query := `
		INSERT INTO balances (professional_id, outstanding_commissions, pending_revenue_shares, net_balance, last_updated)
		VALUES ($1, 0, $2, $2, NOW())
		ON CONFLICT (professional_id) DO UPDATE SET
			pending_revenue_shares = balances.pending_revenue_shares + $2,
			net_balance = (balances.pending_revenue_shares + $2) - balances.outstanding_commissions,
			last_updated = NOW()
		RETURNING ` + balanceColumns
	return scanBalance(r.db.QueryRow(ctx, query, professionalID, amount))
}

// ReduceOutstanding decrements outstanding_commissions, flooring at zero, and
// recomputes net_balance. Overpayment policy is enforced by the caller before
// this statement runs.
func (r *PostgresRepository) ReduceOutstanding(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	query := `
		UPDATE balances SET
			outstanding_commissions = GREATEST(0, outstanding_commissions - $2),
			net_balance = pending_revenue_shares - GREATEST(0, outstanding_commissions - $2),
			last_updated = NOW()
		WHERE professional_id = $1
		RETURNING ` + balanceColumns
	b, err := scanBalance(r.db.QueryRow(ctx, query, professionalID, amount))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return b, nil
}

// ReducePending decrements pending_revenue_shares. The WHERE guard makes the
// statement a no-op when funds are insufficient, reported as ErrInsufficientBalance.
func (r *PostgresRepository) ReducePending(ctx context.Context, professionalID uuid.UUID, amount int64) (*domain.Balance, error) {
	query := `
		UPDATE balances SET
			pending_revenue_shares = pending_revenue_shares - $2,
			net_balance = (pending_revenue_shares - $2) - outstanding_commissions,
			last_updated = NOW()
		WHERE professional_id = $1 AND pending_revenue_shares >= $2
		RETURNING ` + balanceColumns
	b, err := scanBalance(r.db.QueryRow(ctx, query, professionalID, amount))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}
	return b, nil
}

// ApplyOffset nets A's pending revenue shares against B's outstanding
// commissions in one transaction. Rows are locked in lexicographic id order so
// two concurrent offsets can never deadlock, and the guards keep the operation
// all-or-nothing.
func (r *PostgresRepository) ApplyOffset(ctx context.Context, record *domain.OffsetRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	first, second := record.ProfessionalAID, record.ProfessionalBID
	if second.String() < first.String() {
		first, second = second, first
	}
	for _, id := range []uuid.UUID{first, second} {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM balances WHERE professional_id = $1 FOR UPDATE`, id); err != nil {
			return err
		}
	}

	tagA, err := tx.Exec(ctx, `
		UPDATE balances SET
			pending_revenue_shares = pending_revenue_shares - $2,
			net_balance = (pending_revenue_shares - $2) - outstanding_commissions,
			last_updated = NOW()
		WHERE professional_id = $1 AND pending_revenue_shares >= $2
	`, record.ProfessionalAID, record.OffsetAmount)
	if err != nil {
		return err
	}
	tagB, err := tx.Exec(ctx, `
		UPDATE balances SET
			outstanding_commissions = outstanding_commissions - $2,
			net_balance = pending_revenue_shares - (outstanding_commissions - $2),
			last_updated = NOW()
		WHERE professional_id = $1 AND outstanding_commissions >= $2
	`, record.ProfessionalBID, record.OffsetAmount)
	if err != nil {
		return err
	}
	if tagA.RowsAffected() == 0 || tagB.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO offset_records (id, professional_a_id, professional_b_id, offset_amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, record.ID, record.ProfessionalAID, record.ProfessionalBID, record.OffsetAmount, record.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecalculateBalance recomputes both balance sides from recorded history:
// commission facts, completed payments, payouts and offsets. Used for audit
// and drift repair, not on the hot path.
func (r *PostgresRepository) RecalculateBalance(ctx context.Context, professionalID uuid.UUID) (BalanceTotals, error) {
	var totals BalanceTotals
	query := `
		SELECT
			GREATEST(0,
				COALESCE((SELECT SUM(f.amount) FROM commission_facts f
					WHERE f.payer_professional_id = $1 AND f.recipient_type = 'platform'), 0)
				- COALESCE((SELECT SUM(p.amount) FROM payments p
					JOIN invoices i ON i.id = p.invoice_id
					WHERE i.professional_id = $1 AND p.status IN ('completed', 'refunded')), 0)
				- COALESCE((SELECT SUM(o.offset_amount) FROM offset_records o
					WHERE o.professional_b_id = $1), 0)
			) AS outstanding,
			GREATEST(0,
				COALESCE((SELECT SUM(f.amount) FROM commission_facts f
					WHERE f.recipient_id = $1 AND f.recipient_type = 'referrer'), 0)
				- COALESCE((SELECT SUM(po.amount) FROM payouts po
					WHERE po.professional_id = $1), 0)
				- COALESCE((SELECT SUM(o.offset_amount) FROM offset_records o
					WHERE o.professional_a_id = $1), 0)
			) AS pending
	`
	err := r.db.QueryRow(ctx, query, professionalID).Scan(&totals.OutstandingCommissions, &totals.PendingRevenueShares)
	return totals, err
}

// SaveRecalculatedBalance persists recomputed totals, restoring the invariant.
func (r *PostgresRepository) SaveRecalculatedBalance(ctx context.Context, professionalID uuid.UUID, totals BalanceTotals) (*domain.Balance, error) {
	query := `
		UPDATE balances SET
			outstanding_commissions = $2,
			pending_revenue_shares = $3,
			net_balance = $3 - $2,
			last_updated = NOW()
		WHERE professional_id = $1
		RETURNING ` + balanceColumns
	b, err := scanBalance(r.db.QueryRow(ctx, query, professionalID, totals.OutstandingCommissions, totals.PendingRevenueShares))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return b, nil
}

// ListDebtorBalances returns every professional currently owing commission.
func (r *PostgresRepository) ListDebtorBalances(ctx context.Context) ([]domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE outstanding_commissions > 0 ORDER BY professional_id`
	return r.queryBalances(ctx, query)
}

// SetAutopay enables or disables autopay on a professional's balance row.
func (r *PostgresRepository) SetAutopay(ctx context.Context, professionalID uuid.UUID, enabled bool, paymentMethodID *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE balances SET
			autopay_enabled = $2,
			autopay_payment_method_id = $3,
			autopay_failure_count = 0,
			autopay_next_attempt_at = NULL,
			last_updated = NOW()
		WHERE professional_id = $1
	`, professionalID, enabled, paymentMethodID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// UpdateAutopayFailureState records a failed autopay attempt: bumps the
// counter, schedules the next attempt, and disables autopay when exhausted.
func (r *PostgresRepository) UpdateAutopayFailureState(ctx context.Context, professionalID uuid.UUID, failureCount int, nextAttempt *time.Time, enabled bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE balances SET
			autopay_failure_count = $2,
			autopay_next_attempt_at = $3,
			autopay_enabled = $4,
			last_updated = NOW()
		WHERE professional_id = $1
	`, professionalID, failureCount, nextAttempt, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// ListAutopayCandidates returns autopay-enabled debtors whose backoff window
// has elapsed.
func (r *PostgresRepository) ListAutopayCandidates(ctx context.Context, now time.Time) ([]domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances
		WHERE autopay_enabled = TRUE
		  AND outstanding_commissions > 0
		  AND (autopay_next_attempt_at IS NULL OR autopay_next_attempt_at <= $1)
		ORDER BY professional_id`
	return r.queryBalances(ctx, query, now)
}

func (r *PostgresRepository) queryBalances(ctx context.Context, query string, args ...interface{}) ([]domain.Balance, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

const invoiceColumns = `id, professional_id, month, year, issue_date, due_date, status,
       subtotal, vat_amount, total_amount, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.ProfessionalID, &inv.Month, &inv.Year, &inv.IssueDate, &inv.DueDate,
		&inv.Status, &inv.Subtotal, &inv.VATAmount, &inv.TotalAmount, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateInvoiceWithFacts inserts the invoice and transitions its line-item
// facts recorded -> invoiced in one transaction. The partial unique index on
// (professional_id, month, year) WHERE status <> 'cancelled' makes re-runs
// idempotent, reported as ErrDuplicateInvoice.
func (r *PostgresRepository) CreateInvoiceWithFacts(ctx context.Context, invoice *domain.Invoice, factIDs []uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (id, professional_id, month, year, issue_date, due_date, status,
			subtotal, vat_amount, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, invoice.ID, invoice.ProfessionalID, invoice.Month, invoice.Year, invoice.IssueDate,
		invoice.DueDate, invoice.Status, invoice.Subtotal, invoice.VATAmount, invoice.TotalAmount)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateInvoice
		}
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE commission_facts SET status = $1, invoice_id = $2
		WHERE id = ANY($3) AND status = $4
	`, domain.FactStatusInvoiced, invoice.ID, factIDs, domain.FactStatusRecorded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(factIDs)) {
		return ErrInvalidStateTransition
	}

	return tx.Commit(ctx)
}

// FindInvoiceByID returns an invoice with its line-item fact ids.
func (r *PostgresRepository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if err := r.loadInvoiceLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindInvoiceForPeriod returns the non-cancelled invoice for one billing period.
func (r *PostgresRepository) FindInvoiceForPeriod(ctx context.Context, professionalID uuid.UUID, month, year int) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE professional_id = $1 AND month = $2 AND year = $3 AND status <> $4`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, professionalID, month, year, domain.InvoiceStatusCancelled))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if err := r.loadInvoiceLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *PostgresRepository) loadInvoiceLineItems(ctx context.Context, inv *domain.Invoice) error {
	rows, err := r.db.Query(ctx, `SELECT id FROM commission_facts WHERE invoice_id = $1 ORDER BY recorded_at`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		inv.LineItemIDs = append(inv.LineItemIDs, id)
	}
	return rows.Err()
}

// UpdateInvoiceStatus transitions an invoice's status.
func (r *PostgresRepository) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`, status, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// FindOpenInvoices returns a professional's sent/overdue invoices, oldest first.
func (r *PostgresRepository) FindOpenInvoices(ctx context.Context, professionalID uuid.UUID) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE professional_id = $1 AND status IN ($2, $3)
		ORDER BY year, month`
	rows, err := r.db.Query(ctx, query, professionalID, domain.InvoiceStatusSent, domain.InvoiceStatusOverdue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

const paymentColumns = `id, invoice_id, amount, method, gateway_provider, gateway_transaction_id,
       status, failure_reason, refunded_amount, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.GatewayProvider, &p.GatewayTransactionID,
		&p.Status, &p.FailureReason, &p.RefundedAmount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts the payment row (in 'processing') before the gateway
// call so a crash mid-call is recoverable and auditable.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, gateway_provider, status, refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
	`, payment.ID, payment.InvoiceID, payment.Amount, payment.Method, payment.GatewayProvider, payment.Status)
	return err
}

// UpdatePaymentResult records the gateway outcome for a payment.
func (r *PostgresRepository) UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, gatewayTransactionID *string, status string, failureReason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET gateway_transaction_id = COALESCE($2, gateway_transaction_id),
			status = $3, failure_reason = $4, updated_at = NOW()
		WHERE id = $1
	`, paymentID, gatewayTransactionID, status, failureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindPaymentByID returns one payment by its id.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindPaymentByGatewayTransactionID resolves a payment from a provider's
// external transaction id, used by webhook ingestion.
func (r *PostgresRepository) FindPaymentByGatewayTransactionID(ctx context.Context, provider, externalID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_provider = $1 AND gateway_transaction_id = $2`
	p, err := scanPayment(r.db.QueryRow(ctx, query, provider, externalID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// CreateRefund inserts the refund audit row and applies it to the payment in
// one transaction. The guarded UPDATE increments refunded_amount at the row
// level, so concurrent refunds cannot push it past the payment amount; the
// payment flips to 'refunded' once fully refunded.
func (r *PostgresRepository) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO refunds (id, payment_id, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, refund.ID, refund.PaymentID, refund.Amount, refund.Reason, refund.CreatedAt)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE payments SET
			refunded_amount = refunded_amount + $2,
			status = CASE WHEN refunded_amount + $2 = amount THEN $4 ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = $3 AND refunded_amount + $2 <= amount
	`, refund.PaymentID, refund.Amount, domain.PaymentStatusCompleted, domain.PaymentStatusRefunded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundConflict
	}

	return tx.Commit(ctx)
}

// CreatePayout inserts a payout record.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payouts (id, professional_id, amount, method, status, bank_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, payout.ID, payout.ProfessionalID, payout.Amount, payout.Method, payout.Status, payout.BankDetails, payout.CreatedAt)
	return err
}

// RecordWebhookEvent persists the dedupe row for a gateway webhook. A replay of
// the same (provider, external_id) is reported as ErrWebhookReplayed.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, external_id, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, external_id) DO NOTHING
	`, event.ID, event.Provider, event.ExternalID, event.Status, event.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookReplayed
	}
	return nil
}
