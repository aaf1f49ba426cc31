package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

const saleColumns = `id, label, counter_id, club_id, product_id, customer_id, seller_id,
	unit_price, quantity, payment_method, date, is_validated`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var productID, sellerID sql.NullInt64
	if err := row.Scan(&sale.ID, &sale.Label, &sale.CounterID, &sale.ClubID, &productID, &sale.CustomerID, &sellerID,
		&sale.UnitPrice, &sale.Quantity, &sale.PaymentMethod, &sale.Date, &sale.IsValidated); err != nil {
		return nil, err
	}
	sale.ProductID = ptrInt64(productID)
	sale.SellerID = ptrInt64(sellerID)
	return &sale, nil
}

const refillColumns = `id, counter_id, customer_id, operator_id, amount, payment_method, bank, check_number, date, is_validated`

func scanRefill(row interface{ Scan(...any) error }) (*domain.Refill, error) {
	var r domain.Refill
	if err := row.Scan(&r.ID, &r.CounterID, &r.CustomerID, &r.OperatorID, &r.Amount, &r.PaymentMethod,
		&r.Bank, &r.CheckNumber, &r.Date, &r.IsValidated); err != nil {
		return nil, err
	}
	return &r, nil
}

// accountDebit is the amount an ACCOUNT paid batch of sales takes from the
// balance. CARD sales are settled by the bank.
func accountDebit(sales []domain.Sale) money.Money {
	total := money.Zero
	for _, sale := range sales {
		if sale.PaymentMethod == domain.PaymentAccount {
			total = total.Add(sale.Total())
		}
	}
	return total
}

func insertSales(ctx context.Context, tx *sql.Tx, customerID int64, sales []domain.Sale, now time.Time) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		sale.CustomerID = customerID
		if sale.Date.IsZero() {
			sale.Date = now
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sales (label, counter_id, club_id, product_id, customer_id, seller_id,
				unit_price, quantity, payment_method, date, is_validated)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING id
		`, sale.Label, sale.CounterID, sale.ClubID, nullInt64(sale.ProductID), sale.CustomerID, nullInt64(sale.SellerID),
			sale.UnitPrice, sale.Quantity, sale.PaymentMethod, sale.Date, sale.IsValidated).Scan(&sale.ID)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, sale)
	}
	return out, nil
}

func insertRefill(ctx context.Context, tx *sql.Tx, refill domain.Refill) (*domain.Refill, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO refills (counter_id, customer_id, operator_id, amount, payment_method, bank, check_number, date, is_validated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, refill.CounterID, refill.CustomerID, refill.OperatorID, refill.Amount, refill.PaymentMethod,
		refill.Bank, refill.CheckNumber, refill.Date, refill.IsValidated).Scan(&refill.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &refill, nil
}

// applyDeposits adds deltas to the per returnable balances of the customer
// and keeps customer.RecordedDeposits in step. A return that leaves a
// balance below the cap found in limits fails with store.ErrDepositLimit.
func applyDeposits(ctx context.Context, tx *sql.Tx, customer *domain.Customer, deltas map[int64]int, limits map[int64]int) error {
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, returnableID := range ids {
		delta := deltas[returnableID]
		if delta == 0 {
			continue
		}
		var balance int
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO returnable_balances (customer_id, returnable_id, balance) VALUES ($1,$2,$3)
			ON CONFLICT (customer_id, returnable_id) DO UPDATE SET balance = returnable_balances.balance + EXCLUDED.balance
			RETURNING balance
		`, customer.UserID, returnableID, delta).Scan(&balance); err != nil {
			return classify(err)
		}
		if !store.DepositAllowed(limits, returnableID, balance-delta, delta) {
			return store.ErrDepositLimit
		}
		customer.RecordedDeposits += delta
	}
	return nil
}

func updateCustomer(ctx context.Context, tx *sql.Tx, customer domain.Customer) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE customers SET balance = $2, recorded_deposits = $3 WHERE user_id = $1
	`, customer.UserID, customer.Balance, customer.RecordedDeposits)
	if err != nil {
		return classify(err)
	}
	return nil
}

func insertOperationLog(ctx context.Context, tx *sql.Tx, entry domain.OperationLog) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operation_logs (id, actor_id, actor_username, actor_role, action, entity_type, entity_id, counter_id, label, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.ActorID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.CounterID, entry.Label, entry.CreatedAt)
	return classify(err)
}

func (s *Store) ChargeCustomer(ctx context.Context, charge domain.Charge) (*domain.ChargeResult, error) {
	if len(charge.Sales) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	var result *domain.ChargeResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		customer, err := lockCustomer(ctx, tx, charge.CustomerID)
		if err != nil {
			return err
		}
		newBalance := customer.Balance.Sub(accountDebit(charge.Sales))
		if newBalance.IsNegative() {
			return store.ErrInsufficientFunds
		}
		sales, err := insertSales(ctx, tx, customer.UserID, charge.Sales, time.Now().UTC())
		if err != nil {
			return err
		}
		customer.Balance = newBalance
		if err := applyDeposits(ctx, tx, customer, charge.DepositDeltas, charge.DepositLimits); err != nil {
			return err
		}
		if err := updateCustomer(ctx, tx, *customer); err != nil {
			return err
		}
		if key := charge.Basket; key != nil {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM baskets WHERE counter_id = $1 AND customer_id = $2 AND owner_session = $3
			`, key.CounterID, key.CustomerID, key.OwnerSession); err != nil {
				return classify(err)
			}
		}
		result = &domain.ChargeResult{Sales: sales, Customer: *customer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreditCustomer(ctx context.Context, refill domain.Refill) (*domain.CreditResult, error) {
	if !refill.Amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if refill.Date.IsZero() {
		refill.Date = time.Now().UTC()
	}
	var result *domain.CreditResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		customer, err := lockCustomer(ctx, tx, refill.CustomerID)
		if err != nil {
			return err
		}
		inserted, err := insertRefill(ctx, tx, refill)
		if err != nil {
			return err
		}
		customer.Balance = customer.Balance.Add(refill.Amount)
		if err := updateCustomer(ctx, tx, *customer); err != nil {
			return err
		}
		result = &domain.CreditResult{Refill: *inserted, Customer: *customer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return sale, nil
}

// whereBuilder collects optional filter clauses with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *whereBuilder) limit(n int) string {
	if n <= 0 {
		return ""
	}
	w.args = append(w.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var w whereBuilder
	if filter.CounterID != 0 {
		w.add("counter_id = $%d", filter.CounterID)
	}
	if filter.CustomerID != 0 {
		w.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.ProductID != 0 {
		w.add("product_id = $%d", filter.ProductID)
	}
	if filter.Since != nil {
		w.add("date >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		w.add("date <= $%d", *filter.Until)
	}
	query := `SELECT ` + saleColumns + ` FROM sales` + w.sql() + ` ORDER BY id DESC`
	query += w.limit(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sale)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSale(ctx context.Context, id int64, depositDeltas map[int64]int, entry domain.OperationLog) (*domain.Customer, error) {
	var customer *domain.Customer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := scanSale(tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		customer, err = lockCustomer(ctx, tx, sale.CustomerID)
		if err != nil {
			return err
		}
		if sale.PaymentMethod == domain.PaymentAccount {
			customer.Balance = customer.Balance.Add(sale.Total())
		}
		if err := applyDeposits(ctx, tx, customer, depositDeltas, nil); err != nil {
			return err
		}
		if err := updateCustomer(ctx, tx, *customer); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
			return classify(err)
		}
		return insertOperationLog(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Store) GetRefill(ctx context.Context, id int64) (*domain.Refill, error) {
	r, err := scanRefill(s.db.QueryRowContext(ctx, `SELECT `+refillColumns+` FROM refills WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *Store) ListRefills(ctx context.Context, filter domain.RefillFilter) ([]domain.Refill, error) {
	var w whereBuilder
	if filter.CounterID != 0 {
		w.add("counter_id = $%d", filter.CounterID)
	}
	if filter.CustomerID != 0 {
		w.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.PaymentMethod != "" {
		w.add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if filter.Since != nil {
		w.add("date >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		w.add("date <= $%d", *filter.Until)
	}
	query := `SELECT ` + refillColumns + ` FROM refills` + w.sql() + ` ORDER BY id DESC`
	query += w.limit(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Refill{}
	for rows.Next() {
		r, err := scanRefill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRefill(ctx context.Context, id int64, entry domain.OperationLog) (*domain.Customer, error) {
	var customer *domain.Customer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		refill, err := scanRefill(tx.QueryRowContext(ctx, `SELECT `+refillColumns+` FROM refills WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		customer, err = lockCustomer(ctx, tx, refill.CustomerID)
		if err != nil {
			return err
		}
		debited := customer.Balance.Sub(refill.Amount)
		if debited.IsNegative() {
			return store.ErrInsufficientFunds
		}
		customer.Balance = debited
		if err := updateCustomer(ctx, tx, *customer); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM refills WHERE id = $1`, id); err != nil {
			return classify(err)
		}
		return insertOperationLog(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Store) ListOperationLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.OperationLog, error) {
	query := `
		SELECT id, actor_id, actor_username, actor_role, action, entity_type, entity_id, counter_id, label, created_at
		FROM operation_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC`
	args := []any{from, to}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.OperationLog{}
	for rows.Next() {
		var entry domain.OperationLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.CounterID, &entry.Label, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CreateReturnable(ctx context.Context, r domain.ReturnableProduct) (*domain.ReturnableProduct, error) {
	if r.ProductID == r.ReturnedProductID || r.MaxReturn < 0 {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO returnable_products (product_id, returned_product_id, max_return) VALUES ($1,$2,$3) RETURNING id
	`, r.ProductID, r.ReturnedProductID, r.MaxReturn).Scan(&r.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (s *Store) GetReturnable(ctx context.Context, id int64) (*domain.ReturnableProduct, error) {
	var r domain.ReturnableProduct
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, returned_product_id, max_return FROM returnable_products WHERE id = $1
	`, id).Scan(&r.ID, &r.ProductID, &r.ReturnedProductID, &r.MaxReturn)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) ListReturnables(ctx context.Context) ([]domain.ReturnableProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, product_id, returned_product_id, max_return FROM returnable_products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ReturnableProduct{}
	for rows.Next() {
		var r domain.ReturnableProduct
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ReturnedProductID, &r.MaxReturn); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReturnableBalances(ctx context.Context, customerID int64) ([]domain.ReturnableBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.returned_product_id, r.max_return, COALESCE(b.balance, 0)
		FROM returnable_products r
		LEFT JOIN returnable_balances b ON b.returnable_id = r.id AND b.customer_id = $1
		ORDER BY r.id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ReturnableBalance{}
	for rows.Next() {
		var rb domain.ReturnableBalance
		if err := rows.Scan(&rb.Returnable.ID, &rb.Returnable.ProductID, &rb.Returnable.ReturnedProductID,
			&rb.Returnable.MaxReturn, &rb.Balance); err != nil {
			return nil, err
		}
		out = append(out, rb)
	}
	return out, rows.Err()
}

// RecomputeReturnable rebuilds every customer balance of a returnable from
// the sale history and returns the number of customers holding a non zero
// balance afterwards.
func (s *Store) RecomputeReturnable(ctx context.Context, id int64) (int, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID, returnedID int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, returned_product_id FROM returnable_products WHERE id = $1 FOR UPDATE
	`, id).Scan(&productID, &returnedID)
	if err != nil {
		return 0, notFound(err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers c SET recorded_deposits = c.recorded_deposits - b.balance
		FROM returnable_balances b
		WHERE b.customer_id = c.user_id AND b.returnable_id = $1
	`, id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM returnable_balances WHERE returnable_id = $1`, id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO returnable_balances (customer_id, returnable_id, balance)
		SELECT customer_id, $1,
			SUM(CASE WHEN product_id = $2 THEN quantity ELSE -quantity END)
		FROM sales
		WHERE product_id IN ($2, $3)
		GROUP BY customer_id
		HAVING SUM(CASE WHEN product_id = $2 THEN quantity ELSE -quantity END) <> 0
	`, id, productID, returnedID); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE customers c SET recorded_deposits = c.recorded_deposits + b.balance
		FROM returnable_balances b
		WHERE b.customer_id = c.user_id AND b.returnable_id = $1
	`, id); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM returnable_balances WHERE returnable_id = $1`, id).Scan(&count); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return count, nil
}
