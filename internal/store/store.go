package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"sith/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDepositLimit       = errors.New("deposit limit exceeded")
)

// SettleFunc turns a locked eboutic basket into ledger rows. It runs inside
// the store transaction and must not block.
type SettleFunc func(basket domain.EbouticBasket, customer domain.Customer) (domain.Settlement, error)

type Repository interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
	ListUserGroups(ctx context.Context, userID int64) ([]int64, error)
	AddUserToGroup(ctx context.Context, userID int64, groupID int64) error
	RemoveUserFromGroup(ctx context.Context, userID int64, groupID int64) error

	GetCustomer(ctx context.Context, userID int64) (*domain.Customer, error)
	FindCustomerByAccountID(ctx context.Context, accountID string) (*domain.Customer, error)
	LastAccountID(ctx context.Context) (string, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ChargeCustomer(ctx context.Context, charge domain.Charge) (*domain.ChargeResult, error)
	CreditCustomer(ctx context.Context, refill domain.Refill) (*domain.CreditResult, error)

	CreateStudentCard(ctx context.Context, card domain.StudentCard) (*domain.StudentCard, error)
	GetStudentCard(ctx context.Context, id int64) (*domain.StudentCard, error)
	FindStudentCardByUID(ctx context.Context, uid string) (*domain.StudentCard, error)
	ListStudentCards(ctx context.Context, customerID int64) ([]domain.StudentCard, error)
	DeleteStudentCard(ctx context.Context, id int64) error

	GetBillingInfo(ctx context.Context, customerID int64) (*domain.BillingInfo, error)
	UpsertBillingInfo(ctx context.Context, info domain.BillingInfo) (*domain.BillingInfo, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProductTypes(ctx context.Context) ([]domain.ProductType, error)
	CreateProductType(ctx context.Context, productType domain.ProductType) (*domain.ProductType, error)
	MoveProductType(ctx context.Context, id int64, otherID int64, above bool) ([]domain.ProductType, error)

	GetCounter(ctx context.Context, id int64) (*domain.Counter, error)
	ListCounters(ctx context.Context) ([]domain.Counter, error)
	SetCounterToken(ctx context.Context, id int64, token string) error
	AddCounterProduct(ctx context.Context, counterID int64, productID int64) error

	OpenPermanency(ctx context.Context, p domain.Permanency) (*domain.Permanency, error)
	ClosePermanency(ctx context.Context, counterID int64, userID int64) (*domain.Permanency, error)
	Heartbeat(ctx context.Context, counterID int64, idleBefore time.Time, now time.Time) (open []domain.Permanency, closed []domain.Permanency, err error)
	ListOpenPermanencies(ctx context.Context, counterID int64) ([]domain.Permanency, error)

	GetBasket(ctx context.Context, counterID int64, customerID int64, owner string) (*domain.Basket, error)
	SaveBasket(ctx context.Context, basket domain.Basket) (*domain.Basket, error)
	DeleteBasket(ctx context.Context, counterID int64, customerID int64, owner string) error
	SaveLastPurchase(ctx context.Context, purchase domain.LastPurchase) error
	PopLastPurchase(ctx context.Context, counterID int64, owner string) (*domain.LastPurchase, error)

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id int64, depositDeltas map[int64]int, entry domain.OperationLog) (*domain.Customer, error)
	GetRefill(ctx context.Context, id int64) (*domain.Refill, error)
	ListRefills(ctx context.Context, filter domain.RefillFilter) ([]domain.Refill, error)
	DeleteRefill(ctx context.Context, id int64, entry domain.OperationLog) (*domain.Customer, error)
	ListOperationLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.OperationLog, error)

	CreateReturnable(ctx context.Context, r domain.ReturnableProduct) (*domain.ReturnableProduct, error)
	GetReturnable(ctx context.Context, id int64) (*domain.ReturnableProduct, error)
	ListReturnables(ctx context.Context) ([]domain.ReturnableProduct, error)
	ReturnableBalances(ctx context.Context, customerID int64) ([]domain.ReturnableBalance, error)
	RecomputeReturnable(ctx context.Context, id int64) (int, error)

	CreateCashSummary(ctx context.Context, summary domain.CashRegisterSummary) (*domain.CashRegisterSummary, error)
	ListCashSummaries(ctx context.Context, counterID int64, from *time.Time, to *time.Time) ([]domain.CashRegisterSummary, error)
	LastEmptiedCashSummary(ctx context.Context, counterID int64) (*domain.CashRegisterSummary, error)

	CreateEticket(ctx context.Context, ticket domain.Eticket) (*domain.Eticket, error)
	GetEticketByProduct(ctx context.Context, productID int64) (*domain.Eticket, error)

	ReplaceEbouticBasket(ctx context.Context, basket domain.EbouticBasket) (*domain.EbouticBasket, error)
	GetEbouticBasket(ctx context.Context, id int64) (*domain.EbouticBasket, error)
	SettleEbouticBasket(ctx context.Context, id int64, settle SettleFunc) (*domain.Settlement, error)

	ListDumpCandidates(ctx context.Context, inactiveSince time.Time) ([]domain.DumpCandidate, error)
	CreateAccountDump(ctx context.Context, dump domain.AccountDump) (*domain.AccountDump, error)
	ListPendingAccountDumps(ctx context.Context, warnedBefore time.Time) ([]domain.AccountDump, error)
	DeleteAccountDump(ctx context.Context, id int64) error
	DumpAccount(ctx context.Context, dumpID int64, sale domain.Sale) (*domain.Sale, error)
}

// MoveType returns types renumbered so that id sits immediately above (or
// below) otherID, every other relative order being preserved. Orders of the
// result are dense starting at 1.
func MoveType(types []domain.ProductType, id int64, otherID int64, above bool) ([]domain.ProductType, error) {
	if id == otherID {
		return nil, ErrInvalidTransaction
	}
	sorted := append([]domain.ProductType(nil), types...)
	SortTypes(sorted)

	var moved *domain.ProductType
	rest := make([]domain.ProductType, 0, len(sorted))
	for i := range sorted {
		if sorted[i].ID == id {
			t := sorted[i]
			moved = &t
			continue
		}
		rest = append(rest, sorted[i])
	}
	if moved == nil {
		return nil, ErrNotFound
	}
	at := -1
	for i := range rest {
		if rest[i].ID == otherID {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, ErrNotFound
	}
	if !above {
		at++
	}
	out := make([]domain.ProductType, 0, len(sorted))
	out = append(out, rest[:at]...)
	out = append(out, *moved)
	out = append(out, rest[at:]...)
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}

func SortTypes(types []domain.ProductType) {
	sort.SliceStable(types, func(i, j int) bool {
		if types[i].Order != types[j].Order {
			return types[i].Order < types[j].Order
		}
		return types[i].ID < types[j].ID
	})
}

// DepositDeltas returns, per returnable id, the change of deposit balance
// caused by selling quantity units of productID.
func DepositDeltas(returnables []domain.ReturnableProduct, productID int64, quantity int) map[int64]int {
	deltas := map[int64]int{}
	for _, r := range returnables {
		if r.ProductID == productID {
			deltas[r.ID] += quantity
		}
		if r.ReturnedProductID == productID {
			deltas[r.ID] -= quantity
		}
	}
	return deltas
}

func MergeDeltas(dst map[int64]int, src map[int64]int) map[int64]int {
	if dst == nil {
		dst = map[int64]int{}
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// DepositLimits maps returnable ids to their max_return.
func DepositLimits(returnables []domain.ReturnableProduct) map[int64]int {
	limits := make(map[int64]int, len(returnables))
	for _, r := range returnables {
		limits[r.ID] = r.MaxReturn
	}
	return limits
}

// DepositAllowed reports whether adding delta to a deposit balance of
// current keeps it within the cap of returnableID. Only returns are capped
// and returnables absent from limits are not checked.
func DepositAllowed(limits map[int64]int, returnableID int64, current int, delta int) bool {
	limit, ok := limits[returnableID]
	if !ok || delta >= 0 {
		return true
	}
	return current+delta >= -limit
}
