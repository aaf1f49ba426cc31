package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

const productColumns = `id, name, description, code, product_type_id, purchase_price, selling_price,
	special_selling_price, limit_age, tray, archived, club_id, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var typeID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Code, &typeID, &p.PurchasePrice, &p.SellingPrice,
		&p.SpecialSellingPrice, &p.LimitAge, &p.Tray, &p.Archived, &p.ClubID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ProductTypeID = ptrInt64(typeID)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	groups, err := s.buyingGroups(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].BuyingGroupIDs = groups[products[i].ID]
	}
	return products, nil
}

func (s *Store) buyingGroups(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, group_id FROM product_buying_groups ORDER BY product_id, group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]int64{}
	for rows.Next() {
		var productID, groupID int64
		if err := rows.Scan(&productID, &groupID); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], groupID)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	groups, err := int64List(ctx, s.db, `SELECT group_id FROM product_buying_groups WHERE product_id = $1 ORDER BY group_id`, id)
	if err != nil {
		return nil, err
	}
	p.BuyingGroupIDs = groups
	return p, nil
}

func replaceBuyingGroups(ctx context.Context, tx *sql.Tx, productID int64, groups []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_buying_groups WHERE product_id = $1`, productID); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_buying_groups (product_id, group_id) VALUES ($1,$2) ON CONFLICT DO NOTHING
		`, productID, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Code) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (name, description, code, product_type_id, purchase_price, selling_price,
			special_selling_price, limit_age, tray, archived, club_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, product.Name, product.Description, product.Code, nullInt64(product.ProductTypeID), product.PurchasePrice,
		product.SellingPrice, product.SpecialSellingPrice, product.LimitAge, product.Tray, product.Archived,
		product.ClubID, product.CreatedAt).Scan(&product.ID)
	if err != nil {
		return nil, classify(err)
	}
	if err := replaceBuyingGroups(ctx, tx, product.ID, product.BuyingGroupIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE products SET
			name = $2, description = $3, code = $4, product_type_id = $5, purchase_price = $6,
			selling_price = $7, special_selling_price = $8, limit_age = $9, tray = $10, archived = $11, club_id = $12
		WHERE id = $1
		RETURNING created_at
	`, product.ID, product.Name, product.Description, product.Code, nullInt64(product.ProductTypeID),
		product.PurchasePrice, product.SellingPrice, product.SpecialSellingPrice, product.LimitAge,
		product.Tray, product.Archived, product.ClubID).Scan(&product.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if err := replaceBuyingGroups(ctx, tx, product.ID, product.BuyingGroupIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func listTypes(ctx context.Context, q queryer, lock bool) ([]domain.ProductType, error) {
	query := `SELECT id, name, description, comment, sort_order FROM product_types ORDER BY sort_order, id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ProductType{}
	for rows.Next() {
		var pt domain.ProductType
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.Description, &pt.Comment, &pt.Order); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *Store) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	return listTypes(ctx, s.db, false)
}

func (s *Store) CreateProductType(ctx context.Context, productType domain.ProductType) (*domain.ProductType, error) {
	if strings.TrimSpace(productType.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO product_types (name, description, comment, sort_order)
		VALUES ($1, $2, $3, CASE WHEN $4 > 0 THEN $4 ELSE (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM product_types) END)
		RETURNING id, sort_order
	`, productType.Name, productType.Description, productType.Comment, productType.Order).Scan(&productType.ID, &productType.Order)
	if err != nil {
		return nil, classify(err)
	}
	return &productType, nil
}

func (s *Store) MoveProductType(ctx context.Context, id int64, otherID int64, above bool) ([]domain.ProductType, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	types, err := listTypes(ctx, tx, true)
	if err != nil {
		return nil, err
	}
	moved, err := store.MoveType(types, id, otherID, above)
	if err != nil {
		return nil, err
	}
	for _, pt := range moved {
		if _, err := tx.ExecContext(ctx, `UPDATE product_types SET sort_order = $2 WHERE id = $1`, pt.ID, pt.Order); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *Store) GetCounter(ctx context.Context, id int64) (*domain.Counter, error) {
	var c domain.Counter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, club_id, token, created_at FROM counters WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Type, &c.ClubID, &c.Token, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadCounterRelations(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) loadCounterRelations(ctx context.Context, c *domain.Counter) error {
	products, err := int64List(ctx, s.db, `SELECT product_id FROM counter_products WHERE counter_id = $1 ORDER BY product_id`, c.ID)
	if err != nil {
		return err
	}
	sellers, err := int64List(ctx, s.db, `SELECT user_id FROM counter_sellers WHERE counter_id = $1 ORDER BY user_id`, c.ID)
	if err != nil {
		return err
	}
	c.ProductIDs = products
	c.SellerIDs = sellers
	return nil
}

func (s *Store) ListCounters(ctx context.Context) ([]domain.Counter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, club_id, token, created_at FROM counters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	counters := []domain.Counter{}
	for rows.Next() {
		var c domain.Counter
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.ClubID, &c.Token, &c.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range counters {
		if err := s.loadCounterRelations(ctx, &counters[i]); err != nil {
			return nil, err
		}
	}
	return counters, nil
}

func (s *Store) SetCounterToken(ctx context.Context, id int64, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE counters SET token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddCounterProduct(ctx context.Context, counterID int64, productID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counter_products (counter_id, product_id) VALUES ($1,$2) ON CONFLICT DO NOTHING
	`, counterID, productID)
	return classify(err)
}

func (s *Store) CreateEticket(ctx context.Context, ticket domain.Eticket) (*domain.Eticket, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO etickets (product_id, banner_path, event_title, event_date, secret)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, ticket.ProductID, ticket.BannerPath, ticket.EventTitle, nullTime(ticket.EventDate), ticket.Secret).Scan(&ticket.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &ticket, nil
}

func (s *Store) GetEticketByProduct(ctx context.Context, productID int64) (*domain.Eticket, error) {
	var t domain.Eticket
	var date sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, banner_path, event_title, event_date, secret FROM etickets WHERE product_id = $1
	`, productID).Scan(&t.ID, &t.ProductID, &t.BannerPath, &t.EventTitle, &date, &t.Secret)
	if err != nil {
		return nil, notFound(err)
	}
	t.EventDate = ptrTime(date)
	return &t, nil
}
