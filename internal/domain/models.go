package domain

import (
	"time"

	"sith/backend/internal/money"
)

type CounterType string

const (
	CounterBar     CounterType = "BAR"
	CounterOffice  CounterType = "OFFICE"
	CounterEboutic CounterType = "EBOUTIC"
)

func (t CounterType) Valid() bool {
	switch t {
	case CounterBar, CounterOffice, CounterEboutic:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentAccount PaymentMethod = "ACCOUNT"
	PaymentCard    PaymentMethod = "CARD"
	PaymentCash    PaymentMethod = "CASH"
	PaymentCheck   PaymentMethod = "CHECK"
)

var Banks = []string{
	"OTHER",
	"SOCIETE-GENERALE",
	"BANQUE-POPULAIRE",
	"BNP",
	"CAISSE-EPARGNE",
	"CIC",
	"CREDIT-AGRICOLE",
	"CREDIT-MUTUEL",
	"CREDIT-LYONNAIS",
	"LA-POSTE",
}

func IsKnownBank(bank string) bool {
	for _, b := range Banks {
		if b == bank {
			return true
		}
	}
	return false
}

type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Nickname     string     `json:"nickname,omitempty"`
	Email        string     `json:"email"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	GroupIDs     []int64    `json:"group_ids"`
	ClubIDs      []int64    `json:"club_ids"`
	Subscribed   bool       `json:"subscribed"`
	Active       bool       `json:"active"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.FirstName + " '" + u.Nickname + "' " + u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// Age returns the age in full years at the given date. The second return
// value is false when no birth date is on file.
func (u User) Age(at time.Time) (int, bool) {
	if u.DateOfBirth == nil {
		return 0, false
	}
	born := u.DateOfBirth.UTC()
	at = at.UTC()
	age := at.Year() - born.Year()
	if at.Month() < born.Month() || (at.Month() == born.Month() && at.Day() < born.Day()) {
		age--
	}
	return age, true
}

func (u User) IsInClub(clubID int64) bool {
	for _, id := range u.ClubIDs {
		if id == clubID {
			return true
		}
	}
	return false
}

type Club struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Customer struct {
	UserID           int64       `json:"user_id"`
	AccountID        string      `json:"account_id"`
	Balance          money.Money `json:"balance"`
	RecordedDeposits int         `json:"recorded_deposits"`
	CreatedAt        time.Time   `json:"created_at"`
}

type StudentCard struct {
	ID         int64     `json:"id"`
	UID        string    `json:"uid"`
	CustomerID int64     `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Order       int    `json:"order"`
}

type Product struct {
	ID                  int64       `json:"id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	Code                string      `json:"code"`
	ProductTypeID       *int64      `json:"product_type_id,omitempty"`
	PurchasePrice       money.Money `json:"purchase_price"`
	SellingPrice        money.Money `json:"selling_price"`
	SpecialSellingPrice money.Money `json:"special_selling_price"`
	LimitAge            int         `json:"limit_age"`
	Tray                bool        `json:"tray"`
	Archived            bool        `json:"archived"`
	ClubID              int64       `json:"club_id"`
	BuyingGroupIDs      []int64     `json:"buying_group_ids"`
	CreatedAt           time.Time   `json:"created_at"`
}

func (p Product) HasType(typeID int64) bool {
	return p.ProductTypeID != nil && *p.ProductTypeID == typeID
}

type Counter struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Type       CounterType `json:"type"`
	ClubID     int64       `json:"club_id"`
	ProductIDs []int64     `json:"product_ids"`
	SellerIDs  []int64     `json:"seller_ids"`
	Token      string      `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (c Counter) HasProduct(productID int64) bool {
	for _, id := range c.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

func (c Counter) HasSeller(userID int64) bool {
	for _, id := range c.SellerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Permanency struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	CounterID int64      `json:"counter_id"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	Activity  time.Time  `json:"activity"`
}

type SessionState string

const (
	SessionOff  SessionState = "OFF"
	SessionOn   SessionState = "ON"
	SessionIdle SessionState = "IDLE"
)

type Basket struct {
	ID           int64        `json:"id"`
	CounterID    int64        `json:"counter_id"`
	CustomerID   int64        `json:"customer_id"`
	OwnerSession string       `json:"-"`
	Items        []BasketItem `json:"items"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type BasketItem struct {
	ProductID     int64       `json:"product_id"`
	ProductName   string      `json:"product_name"`
	Code          string      `json:"code"`
	Quantity      int         `json:"quantity"`
	BonusQuantity int         `json:"bonus_quantity"`
	UnitPrice     money.Money `json:"unit_price"`
}

func (i BasketItem) Total() money.Money {
	return i.UnitPrice.Mul(i.Quantity)
}

func (b Basket) Total() money.Money {
	total := money.Zero
	for _, item := range b.Items {
		total = total.Add(item.Total())
	}
	return total
}

func (b Basket) Item(productID int64) (BasketItem, int) {
	for i, item := range b.Items {
		if item.ProductID == productID {
			return item, i
		}
	}
	return BasketItem{}, -1
}

type Sale struct {
	ID            int64         `json:"id"`
	Label         string        `json:"label"`
	CounterID     int64         `json:"counter_id"`
	ClubID        int64         `json:"club_id"`
	ProductID     *int64        `json:"product_id,omitempty"`
	CustomerID    int64         `json:"customer_id"`
	SellerID      *int64        `json:"seller_id,omitempty"`
	UnitPrice     money.Money   `json:"unit_price"`
	Quantity      int           `json:"quantity"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Date          time.Time     `json:"date"`
	IsValidated   bool          `json:"is_validated"`
}

func (s Sale) Total() money.Money {
	return s.UnitPrice.Mul(s.Quantity)
}

type Refill struct {
	ID            int64         `json:"id"`
	CounterID     int64         `json:"counter_id"`
	CustomerID    int64         `json:"customer_id"`
	OperatorID    int64         `json:"operator_id"`
	Amount        money.Money   `json:"amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Bank          string        `json:"bank,omitempty"`
	CheckNumber   string        `json:"check_number,omitempty"`
	Date          time.Time     `json:"date"`
	IsValidated   bool          `json:"is_validated"`
}

type ReturnableProduct struct {
	ID                int64 `json:"id"`
	ProductID         int64 `json:"product_id"`
	ReturnedProductID int64 `json:"returned_product_id"`
	MaxReturn         int   `json:"max_return"`
}

type ReturnableBalance struct {
	Returnable ReturnableProduct `json:"returnable"`
	Balance    int               `json:"balance"`
}

// Charge is a batch of sales debited from one customer in a single
// transaction. DepositDeltas maps a returnable id to the change of the
// customer's deposit balance for it.
// BasketKey identifies a counter basket.
type BasketKey struct {
	CounterID    int64
	CustomerID   int64
	OwnerSession string
}

// Charge is one atomic debit. DepositLimits holds max_return per returnable
// id; a negative delta may not take a balance below its negated limit.
// Basket, when set, is deleted in the same commit.
type Charge struct {
	CustomerID    int64
	Sales         []Sale
	DepositDeltas map[int64]int
	DepositLimits map[int64]int
	Basket        *BasketKey
}

type ChargeResult struct {
	Sales    []Sale   `json:"sales"`
	Customer Customer `json:"customer"`
}

type CreditResult struct {
	Refill   Refill   `json:"refill"`
	Customer Customer `json:"customer"`
}

type LastPurchase struct {
	CounterID       int64        `json:"counter_id"`
	OwnerSession    string       `json:"-"`
	CustomerID      int64        `json:"customer_id"`
	AccountID       string       `json:"account_id"`
	CustomerName    string       `json:"customer_name"`
	PreviousBalance money.Money  `json:"previous_balance"`
	Total           money.Money  `json:"total"`
	NewBalance      money.Money  `json:"new_balance"`
	Items           []BasketItem `json:"items"`
	At              time.Time    `json:"at"`
}

type CashRegisterSummary struct {
	ID        int64                     `json:"id"`
	CounterID int64                     `json:"counter_id"`
	UserID    int64                     `json:"user_id"`
	Date      time.Time                 `json:"date"`
	Comment   string                    `json:"comment,omitempty"`
	Emptied   bool                      `json:"emptied"`
	Items     []CashRegisterSummaryItem `json:"items"`
}

type CashRegisterSummaryItem struct {
	Value    money.Money `json:"value"`
	Quantity int         `json:"quantity"`
	IsCheck  bool        `json:"is_check"`
}

func (s CashRegisterSummary) CashTotal() money.Money {
	total := money.Zero
	for _, item := range s.Items {
		if !item.IsCheck {
			total = total.Add(item.Value.Mul(item.Quantity))
		}
	}
	return total
}

func (s CashRegisterSummary) CheckTotal() money.Money {
	total := money.Zero
	for _, item := range s.Items {
		if item.IsCheck {
			total = total.Add(item.Value.Mul(item.Quantity))
		}
	}
	return total
}

func (s CashRegisterSummary) Total() money.Money {
	return s.CashTotal().Add(s.CheckTotal())
}

type Eticket struct {
	ID         int64      `json:"id"`
	ProductID  int64      `json:"product_id"`
	BannerPath string     `json:"banner_path,omitempty"`
	EventTitle string     `json:"event_title"`
	EventDate  *time.Time `json:"event_date,omitempty"`
	Secret     string     `json:"-"`
}

const (
	OperationSaleDeletion   = "SELLING_DELETION"
	OperationRefillDeletion = "REFILLING_DELETION"
)

type OperationLog struct {
	ID            string    `json:"id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	CounterID     int64     `json:"counter_id,omitempty"`
	Label         string    `json:"label"`
	CreatedAt     time.Time `json:"created_at"`
}

type EbouticBasket struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	Items     []EbouticItem `json:"items"`
	Total     money.Money   `json:"total"`
	CreatedAt time.Time     `json:"created_at"`
}

type EbouticItem struct {
	ProductID     int64       `json:"product_id"`
	ProductName   string      `json:"product_name"`
	ProductTypeID int64       `json:"product_type_id"`
	UnitPrice     money.Money `json:"unit_price"`
	Quantity      int         `json:"quantity"`
}

func (b EbouticBasket) ComputeTotal() money.Money {
	total := money.Zero
	for _, item := range b.Items {
		total = total.Add(item.UnitPrice.Mul(item.Quantity))
	}
	return total
}

// Settlement is what an eboutic basket turns into once paid.
type Settlement struct {
	Sales         []Sale        `json:"sales"`
	Refills       []Refill      `json:"refills"`
	DepositDeltas map[int64]int `json:"-"`
}

type AccountDump struct {
	ID                int64     `json:"id"`
	CustomerID        int64     `json:"customer_id"`
	WarningMailSentAt time.Time `json:"warning_mail_sent_at"`
	WarningMailError  bool      `json:"warning_mail_error"`
	DumpSaleID        *int64    `json:"dump_sale_id,omitempty"`
}

type DumpCandidate struct {
	User     User     `json:"user"`
	Customer Customer `json:"customer"`
}

type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type SaleFilter struct {
	CounterID  int64
	CustomerID int64
	ProductID  int64
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

type RefillFilter struct {
	CounterID     int64
	CustomerID    int64
	PaymentMethod PaymentMethod
	Since         *time.Time
	Until         *time.Time
	Limit         int
}
