package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

func scanPermanency(row interface{ Scan(...any) error }) (*domain.Permanency, error) {
	var p domain.Permanency
	var end sql.NullTime
	if err := row.Scan(&p.ID, &p.UserID, &p.CounterID, &p.Start, &end, &p.Activity); err != nil {
		return nil, err
	}
	p.End = ptrTime(end)
	return &p, nil
}

const permanencyColumns = `id, user_id, counter_id, start_at, end_at, activity_at`

// OpenPermanency relies on the partial unique index on open permanencies to
// reject a second concurrent login of the same user.
func (s *Store) OpenPermanency(ctx context.Context, p domain.Permanency) (*domain.Permanency, error) {
	out, err := scanPermanency(s.db.QueryRowContext(ctx, `
		INSERT INTO permanencies (user_id, counter_id, start_at, activity_at)
		VALUES ($1,$2,$3,$4)
		RETURNING `+permanencyColumns, p.UserID, p.CounterID, p.Start, p.Activity))
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) ClosePermanency(ctx context.Context, counterID int64, userID int64) (*domain.Permanency, error) {
	out, err := scanPermanency(s.db.QueryRowContext(ctx, `
		UPDATE permanencies SET end_at = activity_at
		WHERE counter_id = $1 AND user_id = $2 AND end_at IS NULL
		RETURNING `+permanencyColumns, counterID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return out, nil
}

func collectPermanencies(rows *sql.Rows) ([]domain.Permanency, error) {
	defer rows.Close()
	out := []domain.Permanency{}
	for rows.Next() {
		p, err := scanPermanency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) Heartbeat(ctx context.Context, counterID int64, idleBefore time.Time, now time.Time) ([]domain.Permanency, []domain.Permanency, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE permanencies SET end_at = activity_at
		WHERE counter_id = $1 AND end_at IS NULL AND activity_at <= $2
		RETURNING `+permanencyColumns, counterID, idleBefore)
	if err != nil {
		return nil, nil, err
	}
	closed, err := collectPermanencies(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = tx.QueryContext(ctx, `
		UPDATE permanencies SET activity_at = $2
		WHERE counter_id = $1 AND end_at IS NULL
		RETURNING `+permanencyColumns, counterID, now)
	if err != nil {
		return nil, nil, err
	}
	open, err := collectPermanencies(rows)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return open, closed, nil
}

func (s *Store) ListOpenPermanencies(ctx context.Context, counterID int64) ([]domain.Permanency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+permanencyColumns+` FROM permanencies
		WHERE counter_id = $1 AND end_at IS NULL
		ORDER BY id
	`, counterID)
	if err != nil {
		return nil, err
	}
	return collectPermanencies(rows)
}

func (s *Store) GetBasket(ctx context.Context, counterID int64, customerID int64, owner string) (*domain.Basket, error) {
	b := domain.Basket{CounterID: counterID, CustomerID: customerID, OwnerSession: owner}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, updated_at FROM baskets WHERE counter_id = $1 AND customer_id = $2 AND owner_session = $3
	`, counterID, customerID, owner).Scan(&b.ID, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, code, quantity, bonus_quantity, unit_price
		FROM basket_items WHERE basket_id = $1 ORDER BY position
	`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.BasketItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Code, &item.Quantity, &item.BonusQuantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, item)
	}
	return &b, rows.Err()
}

func (s *Store) SaveBasket(ctx context.Context, basket domain.Basket) (*domain.Basket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	basket.UpdatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO baskets (counter_id, customer_id, owner_session, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (counter_id, customer_id, owner_session) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id
	`, basket.CounterID, basket.CustomerID, basket.OwnerSession, basket.UpdatedAt).Scan(&basket.ID)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM basket_items WHERE basket_id = $1`, basket.ID); err != nil {
		return nil, err
	}
	for i, item := range basket.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO basket_items (basket_id, position, product_id, product_name, code, quantity, bonus_quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, basket.ID, i, item.ProductID, item.ProductName, item.Code, item.Quantity, item.BonusQuantity, item.UnitPrice)
		if err != nil {
			return nil, classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &basket, nil
}

func (s *Store) DeleteBasket(ctx context.Context, counterID int64, customerID int64, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM baskets WHERE counter_id = $1 AND customer_id = $2 AND owner_session = $3
	`, counterID, customerID, owner)
	return err
}

func (s *Store) SaveLastPurchase(ctx context.Context, purchase domain.LastPurchase) error {
	payload, err := json.Marshal(purchase)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO last_purchases (counter_id, owner_session, payload) VALUES ($1,$2,$3)
		ON CONFLICT (counter_id, owner_session) DO UPDATE SET payload = EXCLUDED.payload
	`, purchase.CounterID, purchase.OwnerSession, payload)
	return err
}

func (s *Store) PopLastPurchase(ctx context.Context, counterID int64, owner string) (*domain.LastPurchase, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM last_purchases WHERE counter_id = $1 AND owner_session = $2 RETURNING payload
	`, counterID, owner).Scan(&payload)
	if err != nil {
		return nil, notFound(err)
	}
	var out domain.LastPurchase
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	out.OwnerSession = owner
	return &out, nil
}

func (s *Store) CreateCashSummary(ctx context.Context, summary domain.CashRegisterSummary) (*domain.CashRegisterSummary, error) {
	if summary.Date.IsZero() {
		summary.Date = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO cash_summaries (counter_id, user_id, date, comment, emptied)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, summary.CounterID, summary.UserID, summary.Date, summary.Comment, summary.Emptied).Scan(&summary.ID)
	if err != nil {
		return nil, classify(err)
	}
	for _, item := range summary.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cash_summary_items (summary_id, value, quantity, is_check) VALUES ($1,$2,$3,$4)
		`, summary.ID, item.Value, item.Quantity, item.IsCheck); err != nil {
			return nil, classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Store) loadSummaryItems(ctx context.Context, summaries []domain.CashRegisterSummary) error {
	for i := range summaries {
		rows, err := s.db.QueryContext(ctx, `
			SELECT value, quantity, is_check FROM cash_summary_items WHERE summary_id = $1 ORDER BY is_check, value
		`, summaries[i].ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var item domain.CashRegisterSummaryItem
			if err := rows.Scan(&item.Value, &item.Quantity, &item.IsCheck); err != nil {
				_ = rows.Close()
				return err
			}
			summaries[i].Items = append(summaries[i].Items, item)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()
	}
	return nil
}

func (s *Store) querySummaries(ctx context.Context, query string, args ...any) ([]domain.CashRegisterSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []domain.CashRegisterSummary{}
	for rows.Next() {
		var summary domain.CashRegisterSummary
		if err := rows.Scan(&summary.ID, &summary.CounterID, &summary.UserID, &summary.Date, &summary.Comment, &summary.Emptied); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if err := s.loadSummaryItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListCashSummaries(ctx context.Context, counterID int64, from *time.Time, to *time.Time) ([]domain.CashRegisterSummary, error) {
	return s.querySummaries(ctx, `
		SELECT id, counter_id, user_id, date, comment, emptied FROM cash_summaries
		WHERE ($1 = 0 OR counter_id = $1)
			AND ($2::timestamptz IS NULL OR date >= $2)
			AND ($3::timestamptz IS NULL OR date <= $3)
		ORDER BY id DESC
	`, counterID, nullTime(from), nullTime(to))
}

func (s *Store) LastEmptiedCashSummary(ctx context.Context, counterID int64) (*domain.CashRegisterSummary, error) {
	out, err := s.querySummaries(ctx, `
		SELECT id, counter_id, user_id, date, comment, emptied FROM cash_summaries
		WHERE counter_id = $1 AND emptied
		ORDER BY id DESC
		LIMIT 1
	`, counterID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return &out[0], nil
}
