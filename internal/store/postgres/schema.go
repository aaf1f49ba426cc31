package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		nickname TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		date_of_birth DATE,
		subscribed BOOLEAN NOT NULL DEFAULT false,
		active BOOLEAN NOT NULL DEFAULT true,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		group_id BIGINT NOT NULL,
		PRIMARY KEY (user_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS clubs (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_clubs (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		club_id BIGINT NOT NULL REFERENCES clubs(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, club_id)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		user_id BIGINT PRIMARY KEY REFERENCES users(id),
		account_id TEXT NOT NULL,
		balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		recorded_deposits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS customers_account_id_key ON customers (lower(account_id))`,
	`CREATE TABLE IF NOT EXISTS student_cards (
		id BIGSERIAL PRIMARY KEY,
		uid CHAR(14) NOT NULL UNIQUE,
		customer_id BIGINT NOT NULL REFERENCES customers(user_id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS billing_infos (
		customer_id BIGINT PRIMARY KEY REFERENCES customers(user_id) ON DELETE CASCADE,
		first_name VARCHAR(22) NOT NULL,
		last_name VARCHAR(22) NOT NULL,
		address_1 VARCHAR(50) NOT NULL,
		address_2 VARCHAR(50) NOT NULL DEFAULT '',
		zip_code VARCHAR(16) NOT NULL,
		city VARCHAR(50) NOT NULL,
		country CHAR(2) NOT NULL,
		phone_number TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS product_types (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		product_type_id BIGINT REFERENCES product_types(id) ON DELETE SET NULL,
		purchase_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		special_selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		limit_age INTEGER NOT NULL DEFAULT 0,
		tray BOOLEAN NOT NULL DEFAULT false,
		archived BOOLEAN NOT NULL DEFAULT false,
		club_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS product_buying_groups (
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		group_id BIGINT NOT NULL,
		PRIMARY KEY (product_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS counters (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('BAR', 'OFFICE', 'EBOUTIC')),
		club_id BIGINT NOT NULL,
		token TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS counter_products (
		counter_id BIGINT NOT NULL REFERENCES counters(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		PRIMARY KEY (counter_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS counter_sellers (
		counter_id BIGINT NOT NULL REFERENCES counters(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (counter_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS permanencies (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		counter_id BIGINT NOT NULL REFERENCES counters(id),
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ,
		activity_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS permanencies_open_key ON permanencies (user_id, counter_id) WHERE end_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS baskets (
		id BIGSERIAL PRIMARY KEY,
		counter_id BIGINT NOT NULL REFERENCES counters(id),
		customer_id BIGINT NOT NULL REFERENCES customers(user_id),
		owner_session TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (counter_id, customer_id, owner_session)
	)`,
	`CREATE TABLE IF NOT EXISTS basket_items (
		basket_id BIGINT NOT NULL REFERENCES baskets(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id BIGINT NOT NULL REFERENCES products(id),
		product_name TEXT NOT NULL,
		code TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		bonus_quantity INTEGER NOT NULL DEFAULT 0 CHECK (bonus_quantity >= 0),
		unit_price NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (basket_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS last_purchases (
		counter_id BIGINT NOT NULL,
		owner_session TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (counter_id, owner_session)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		label TEXT NOT NULL,
		counter_id BIGINT NOT NULL REFERENCES counters(id),
		club_id BIGINT NOT NULL,
		product_id BIGINT REFERENCES products(id) ON DELETE SET NULL,
		customer_id BIGINT NOT NULL REFERENCES customers(user_id),
		seller_id BIGINT REFERENCES users(id),
		unit_price NUMERIC(12,2) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('ACCOUNT', 'CARD')),
		date TIMESTAMPTZ NOT NULL,
		is_validated BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS sales_customer_idx ON sales (customer_id, date)`,
	`CREATE INDEX IF NOT EXISTS sales_counter_idx ON sales (counter_id, date)`,
	`CREATE TABLE IF NOT EXISTS refills (
		id BIGSERIAL PRIMARY KEY,
		counter_id BIGINT NOT NULL REFERENCES counters(id),
		customer_id BIGINT NOT NULL REFERENCES customers(user_id),
		operator_id BIGINT NOT NULL REFERENCES users(id),
		amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('CASH', 'CHECK', 'CARD')),
		bank TEXT NOT NULL DEFAULT '',
		check_number TEXT NOT NULL DEFAULT '',
		date TIMESTAMPTZ NOT NULL,
		is_validated BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS refills_counter_idx ON refills (counter_id, date)`,
	`CREATE TABLE IF NOT EXISTS returnable_products (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		returned_product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		max_return INTEGER NOT NULL DEFAULT 0 CHECK (max_return >= 0),
		UNIQUE (product_id, returned_product_id),
		CHECK (product_id <> returned_product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS returnable_balances (
		customer_id BIGINT NOT NULL REFERENCES customers(user_id) ON DELETE CASCADE,
		returnable_id BIGINT NOT NULL REFERENCES returnable_products(id) ON DELETE CASCADE,
		balance INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (customer_id, returnable_id)
	)`,
	`CREATE TABLE IF NOT EXISTS cash_summaries (
		id BIGSERIAL PRIMARY KEY,
		counter_id BIGINT NOT NULL REFERENCES counters(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		date TIMESTAMPTZ NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		emptied BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS cash_summary_items (
		summary_id BIGINT NOT NULL REFERENCES cash_summaries(id) ON DELETE CASCADE,
		value NUMERIC(12,2) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		is_check BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS etickets (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL UNIQUE REFERENCES products(id) ON DELETE CASCADE,
		banner_path TEXT NOT NULL DEFAULT '',
		event_title TEXT NOT NULL,
		event_date TIMESTAMPTZ,
		secret TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operation_logs (
		id TEXT PRIMARY KEY,
		actor_id BIGINT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		counter_id BIGINT NOT NULL DEFAULT 0,
		label TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eboutic_baskets (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		total NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS eboutic_basket_items (
		basket_id BIGINT NOT NULL REFERENCES eboutic_baskets(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id BIGINT NOT NULL REFERENCES products(id),
		product_name TEXT NOT NULL,
		product_type_id BIGINT NOT NULL,
		unit_price NUMERIC(12,2) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity BETWEEN 1 AND 99),
		PRIMARY KEY (basket_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS account_dumps (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(user_id),
		warning_mail_sent_at TIMESTAMPTZ NOT NULL,
		warning_mail_error BOOLEAN NOT NULL DEFAULT false,
		dump_sale_id BIGINT REFERENCES sales(id) ON DELETE SET NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS account_dumps_ongoing_key ON account_dumps (customer_id) WHERE dump_sale_id IS NULL`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
