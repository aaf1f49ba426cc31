package postgres

import (
	"context"
	"database/sql"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

func (s *Store) ReplaceEbouticBasket(ctx context.Context, basket domain.EbouticBasket) (*domain.EbouticBasket, error) {
	if len(basket.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if basket.CreatedAt.IsZero() {
		basket.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM eboutic_baskets WHERE user_id = $1`, basket.UserID); err != nil {
		return nil, err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO eboutic_baskets (user_id, total, created_at) VALUES ($1,$2,$3) RETURNING id
	`, basket.UserID, basket.Total, basket.CreatedAt).Scan(&basket.ID)
	if err != nil {
		return nil, classify(err)
	}
	for i, item := range basket.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO eboutic_basket_items (basket_id, position, product_id, product_name, product_type_id, unit_price, quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, basket.ID, i, item.ProductID, item.ProductName, item.ProductTypeID, item.UnitPrice, item.Quantity); err != nil {
			return nil, classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &basket, nil
}

func loadEbouticBasket(ctx context.Context, q queryer, id int64, lock bool) (*domain.EbouticBasket, error) {
	query := `SELECT id, user_id, total, created_at FROM eboutic_baskets WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var b domain.EbouticBasket
	if err := q.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.UserID, &b.Total, &b.CreatedAt); err != nil {
		return nil, notFound(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, product_type_id, unit_price, quantity
		FROM eboutic_basket_items WHERE basket_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.EbouticItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.ProductTypeID, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, item)
	}
	return &b, rows.Err()
}

func (s *Store) GetEbouticBasket(ctx context.Context, id int64) (*domain.EbouticBasket, error) {
	return loadEbouticBasket(ctx, s.db, id, false)
}

// SettleEbouticBasket locks the basket row for the whole settlement so that
// a replayed callback blocks and then finds the basket already gone.
func (s *Store) SettleEbouticBasket(ctx context.Context, id int64, settle store.SettleFunc) (*domain.Settlement, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	basket, err := loadEbouticBasket(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	customer, err := lockCustomer(ctx, tx, basket.UserID)
	if err != nil {
		return nil, err
	}
	settlement, err := settle(*basket, *customer)
	if err != nil {
		return nil, err
	}

	balance := customer.Balance
	for _, refill := range settlement.Refills {
		if !refill.Amount.IsPositive() {
			return nil, store.ErrInvalidTransaction
		}
		balance = balance.Add(refill.Amount)
	}
	balance = balance.Sub(accountDebit(settlement.Sales))
	if balance.IsNegative() {
		return nil, store.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	sales, err := insertSales(ctx, tx, customer.UserID, settlement.Sales, now)
	if err != nil {
		return nil, err
	}
	refills := make([]domain.Refill, 0, len(settlement.Refills))
	for _, refill := range settlement.Refills {
		refill.CustomerID = customer.UserID
		if refill.Date.IsZero() {
			refill.Date = now
		}
		inserted, err := insertRefill(ctx, tx, refill)
		if err != nil {
			return nil, err
		}
		refills = append(refills, *inserted)
	}
	customer.Balance = balance
	if err := applyDeposits(ctx, tx, customer, settlement.DepositDeltas, nil); err != nil {
		return nil, err
	}
	if err := updateCustomer(ctx, tx, *customer); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM eboutic_baskets WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &domain.Settlement{Sales: sales, Refills: refills}, nil
}

func (s *Store) ListDumpCandidates(ctx context.Context, inactiveSince time.Time) ([]domain.DumpCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.user_id
		FROM customers c
		JOIN users u ON u.id = c.user_id
		WHERE c.balance > 0
			AND NOT u.subscribed
			AND GREATEST(
				c.created_at,
				COALESCE((SELECT max(date) FROM sales WHERE customer_id = c.user_id), c.created_at),
				COALESCE((SELECT max(date) FROM refills WHERE customer_id = c.user_id), c.created_at)
			) <= $1
			AND NOT EXISTS (SELECT 1 FROM account_dumps d WHERE d.customer_id = c.user_id AND d.dump_sale_id IS NULL)
		ORDER BY c.user_id
	`, inactiveSince)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]domain.DumpCandidate, 0, len(ids))
	for _, id := range ids {
		user, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		customer, err := s.GetCustomer(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.DumpCandidate{User: *user, Customer: *customer})
	}
	return out, nil
}

func (s *Store) CreateAccountDump(ctx context.Context, dump domain.AccountDump) (*domain.AccountDump, error) {
	dump.DumpSaleID = nil
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account_dumps (customer_id, warning_mail_sent_at, warning_mail_error) VALUES ($1,$2,$3) RETURNING id
	`, dump.CustomerID, dump.WarningMailSentAt, dump.WarningMailError).Scan(&dump.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &dump, nil
}

func (s *Store) ListPendingAccountDumps(ctx context.Context, warnedBefore time.Time) ([]domain.AccountDump, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, warning_mail_sent_at, warning_mail_error, dump_sale_id
		FROM account_dumps
		WHERE dump_sale_id IS NULL AND warning_mail_sent_at < $1
		ORDER BY id
	`, warnedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AccountDump{}
	for rows.Next() {
		var d domain.AccountDump
		var saleID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.WarningMailSentAt, &d.WarningMailError, &saleID); err != nil {
			return nil, err
		}
		d.DumpSaleID = ptrInt64(saleID)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAccountDump(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM account_dumps WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DumpAccount(ctx context.Context, dumpID int64, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var customerID int64
	err = tx.QueryRowContext(ctx, `
		SELECT customer_id FROM account_dumps WHERE id = $1 AND dump_sale_id IS NULL FOR UPDATE
	`, dumpID).Scan(&customerID)
	if err != nil {
		return nil, notFound(err)
	}
	customer, err := lockCustomer(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	sale.UnitPrice = customer.Balance
	sale.Quantity = 1
	sale.PaymentMethod = domain.PaymentAccount
	sales, err := insertSales(ctx, tx, customer.UserID, []domain.Sale{sale}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	customer.Balance = customer.Balance.Sub(sale.UnitPrice)
	if err := updateCustomer(ctx, tx, *customer); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account_dumps SET dump_sale_id = $2 WHERE id = $1`, dumpID, sales[0].ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &sales[0], nil
}
