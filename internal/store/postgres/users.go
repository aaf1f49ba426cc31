package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

const userColumns = `id, username, password_hash, first_name, last_name, nickname, email,
	date_of_birth, subscribed, active, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var dob sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Nickname,
		&u.Email, &dob, &u.Subscribed, &u.Active, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.DateOfBirth = ptrTime(dob)
	return &u, nil
}

func (s *Store) loadMemberships(ctx context.Context, u *domain.User) error {
	groups, err := int64List(ctx, s.db, `SELECT group_id FROM user_groups WHERE user_id = $1 ORDER BY group_id`, u.ID)
	if err != nil {
		return err
	}
	clubs, err := int64List(ctx, s.db, `SELECT club_id FROM user_clubs WHERE user_id = $1 ORDER BY club_id`, u.ID)
	if err != nil {
		return err
	}
	u.GroupIDs = groups
	u.ClubIDs = clubs
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadMemberships(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadMemberships(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if strings.TrimSpace(user.Username) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = "user"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, first_name, last_name, nickname, email,
			date_of_birth, subscribed, active, role, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, user.Username, user.PasswordHash, user.FirstName, user.LastName, user.Nickname, user.Email,
		nullTime(user.DateOfBirth), user.Subscribed, user.Active, user.Role, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return nil, classify(err)
	}
	for _, g := range user.GroupIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_groups (user_id, group_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, user.ID, g); err != nil {
			return nil, err
		}
	}
	for _, c := range user.ClubIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_clubs (user_id, club_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, user.ID, c); err != nil {
			return nil, classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range users {
		if err := s.loadMemberships(ctx, &users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE lower(username) = lower($1)`, username, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUserGroups(ctx context.Context, userID int64) ([]int64, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return int64List(ctx, s.db, `SELECT group_id FROM user_groups WHERE user_id = $1 ORDER BY group_id`, userID)
}

func (s *Store) AddUserToGroup(ctx context.Context, userID int64, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_groups (user_id, group_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, userID, groupID)
	return classify(err)
}

func (s *Store) RemoveUserFromGroup(ctx context.Context, userID int64, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	return err
}

const customerColumns = `user_id, account_id, balance, recorded_deposits, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.UserID, &c.AccountID, &c.Balance, &c.RecordedDeposits, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCustomer(ctx context.Context, userID int64) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// lockCustomer reads the customer row with a row lock held until tx ends.
func lockCustomer(ctx context.Context, tx *sql.Tx, userID int64) (*domain.Customer, error) {
	c, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) FindCustomerByAccountID(ctx context.Context, accountID string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE lower(account_id) = lower($1)`, accountID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) LastAccountID(ctx context.Context) (string, error) {
	var last string
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM customers ORDER BY length(account_id) DESC, account_id DESC LIMIT 1`).Scan(&last)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return last, err
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (user_id, account_id, balance, recorded_deposits, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.UserID, customer.AccountID, customer.Balance, customer.RecordedDeposits, customer.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &customer, nil
}

func (s *Store) CreateStudentCard(ctx context.Context, card domain.StudentCard) (*domain.StudentCard, error) {
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO student_cards (uid, customer_id, created_at) VALUES ($1,$2,$3) RETURNING id
	`, card.UID, card.CustomerID, card.CreatedAt).Scan(&card.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &card, nil
}

func scanCard(row interface{ Scan(...any) error }) (*domain.StudentCard, error) {
	var c domain.StudentCard
	if err := row.Scan(&c.ID, &c.UID, &c.CustomerID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetStudentCard(ctx context.Context, id int64) (*domain.StudentCard, error) {
	c, err := scanCard(s.db.QueryRowContext(ctx, `SELECT id, uid, customer_id, created_at FROM student_cards WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) FindStudentCardByUID(ctx context.Context, uid string) (*domain.StudentCard, error) {
	c, err := scanCard(s.db.QueryRowContext(ctx, `SELECT id, uid, customer_id, created_at FROM student_cards WHERE uid = $1`, uid))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListStudentCards(ctx context.Context, customerID int64) ([]domain.StudentCard, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, customer_id, created_at FROM student_cards WHERE customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.StudentCard{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStudentCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM student_cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetBillingInfo(ctx context.Context, customerID int64) (*domain.BillingInfo, error) {
	var b domain.BillingInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, first_name, last_name, address_1, address_2, zip_code, city, country, phone_number
		FROM billing_infos WHERE customer_id = $1
	`, customerID).Scan(&b.CustomerID, &b.FirstName, &b.LastName, &b.Address1, &b.Address2, &b.ZipCode, &b.City, &b.Country, &b.PhoneNumber)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) UpsertBillingInfo(ctx context.Context, info domain.BillingInfo) (*domain.BillingInfo, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_infos (customer_id, first_name, last_name, address_1, address_2, zip_code, city, country, phone_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (customer_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			address_1 = EXCLUDED.address_1,
			address_2 = EXCLUDED.address_2,
			zip_code = EXCLUDED.zip_code,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			phone_number = EXCLUDED.phone_number
	`, info.CustomerID, info.FirstName, info.LastName, info.Address1, info.Address2, info.ZipCode, info.City, info.Country, info.PhoneNumber)
	if err != nil {
		return nil, classify(err)
	}
	return &info, nil
}
