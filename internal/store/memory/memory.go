package memory

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
)

type basketKey struct {
	counterID  int64
	customerID int64
	owner      string
}

type ownerKey struct {
	counterID int64
	owner     string
}

type balanceKey struct {
	customerID   int64
	returnableID int64
}

type Store struct {
	mu                 sync.RWMutex
	seq                map[string]int64
	users              map[int64]domain.User
	customers          map[int64]domain.Customer
	studentCards       map[int64]domain.StudentCard
	billingInfos       map[int64]domain.BillingInfo
	products           map[int64]domain.Product
	productTypes       map[int64]domain.ProductType
	counters           map[int64]domain.Counter
	permanencies       map[int64]domain.Permanency
	baskets            map[basketKey]domain.Basket
	lastPurchases      map[ownerKey]domain.LastPurchase
	sales              map[int64]domain.Sale
	refills            map[int64]domain.Refill
	returnables        map[int64]domain.ReturnableProduct
	returnableBalances map[balanceKey]int
	cashSummaries      map[int64]domain.CashRegisterSummary
	etickets           map[int64]domain.Eticket
	operationLogs      []domain.OperationLog
	ebouticBaskets     map[int64]domain.EbouticBasket
	accountDumps       map[int64]domain.AccountDump
}

func New() *Store {
	return &Store{
		seq:                map[string]int64{},
		users:              map[int64]domain.User{},
		customers:          map[int64]domain.Customer{},
		studentCards:       map[int64]domain.StudentCard{},
		billingInfos:       map[int64]domain.BillingInfo{},
		products:           map[int64]domain.Product{},
		productTypes:       map[int64]domain.ProductType{},
		counters:           map[int64]domain.Counter{},
		permanencies:       map[int64]domain.Permanency{},
		baskets:            map[basketKey]domain.Basket{},
		lastPurchases:      map[ownerKey]domain.LastPurchase{},
		sales:              map[int64]domain.Sale{},
		refills:            map[int64]domain.Refill{},
		returnables:        map[int64]domain.ReturnableProduct{},
		returnableBalances: map[balanceKey]int{},
		cashSummaries:      map[int64]domain.CashRegisterSummary{},
		etickets:           map[int64]domain.Eticket{},
		operationLogs:      make([]domain.OperationLog, 0, 64),
		ebouticBaskets:     map[int64]domain.EbouticBasket{},
		accountDumps:       map[int64]domain.AccountDump{},
	}
}

var (
	seedOnce   sync.Once
	seedHashes map[string]string
)

// seedPasswordHashes hashes the dev credentials once per process. They are
// read from SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD and fall back to dev
// defaults with a warning. The in-memory store is never used when
// DATABASE_URL is set.
func seedPasswordHashes() map[string]string {
	seedOnce.Do(func() {
		adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
		userPwd := envOr("SEED_USER_PASSWORD", "plop1234")
		if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_USER_PASSWORD") == "" {
			log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD to override.")
		}
		seedHashes = map[string]string{}
		for role, pwd := range map[string]string{"admin": adminPwd, "user": userPwd} {
			hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
			if err != nil {
				log.Fatalf("[memory-store] failed to hash seed password for %s: %v", role, err)
			}
			seedHashes[role] = string(hash)
		}
	})
	return seedHashes
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func birth(year int) *time.Time {
	t := time.Date(year, time.January, 15, 0, 0, 0, 0, time.UTC)
	return &t
}

func int64Ptr(v int64) *int64 {
	return &v
}

// Seeded ids, aligned with config.DefaultCounterSettings.
const (
	SeedAdminID    int64 = 1
	SeedBarmanID   int64 = 2
	SeedCustomerID int64 = 3
	SeedBarman2ID  int64 = 4
	SeedMinorID    int64 = 5
	SeedNoAgeID    int64 = 6

	SeedBarCounterID     int64 = 1
	SeedOfficeCounterID  int64 = 2
	SeedEbouticCounterID int64 = 3
	SeedDumpCounterID    int64 = 4

	SeedBeerID         int64 = 1
	SeedBarbID         int64 = 2
	SeedEcocupID       int64 = 3
	SeedReturnEcocupID int64 = 4
	SeedRefill15ID     int64 = 5
	SeedCocaID         int64 = 6
	SeedGalaID         int64 = 7
	SeedStaffPizzaID   int64 = 8

	SeedEcocupReturnableID int64 = 1
	SeedStudentCardUID           = "04A1B2C3D4E5F6"
)

// NewSeeded returns a store holding a small association: one main club, a
// bar, an office, the eboutic and the account dump counter.
func NewSeeded() *Store {
	s := New()
	hashes := seedPasswordHashes()
	now := time.Now().UTC()

	users := []domain.User{
		{ID: SeedAdminID, Username: "root", FirstName: "Root", LastName: "Admin", Email: "root@example.org", DateOfBirth: birth(1990), GroupIDs: []int64{5, 7, 14}, ClubIDs: []int64{1}, Subscribed: true, Active: true, Role: "admin"},
		{ID: SeedBarmanID, Username: "skia", FirstName: "Skia", LastName: "Barman", Nickname: "skiaman", Email: "skia@example.org", DateOfBirth: birth(1995), ClubIDs: []int64{1}, Subscribed: true, Active: true, Role: "user"},
		{ID: SeedCustomerID, Username: "sli", FirstName: "Sli", LastName: "Customer", Email: "sli@example.org", DateOfBirth: birth(2000), Subscribed: true, Active: true, Role: "user"},
		{ID: SeedBarman2ID, Username: "krophil", FirstName: "Krophil", LastName: "Barman", Email: "krophil@example.org", DateOfBirth: birth(1998), ClubIDs: []int64{1}, Subscribed: true, Active: true, Role: "user"},
		{ID: SeedMinorID, Username: "kid", FirstName: "Young", LastName: "Kid", Email: "kid@example.org", DateOfBirth: birth(now.Year() - 15), Subscribed: true, Active: true, Role: "user"},
		{ID: SeedNoAgeID, Username: "public", FirstName: "Public", LastName: "User", Email: "public@example.org", Subscribed: true, Active: true, Role: "user"},
	}
	for _, u := range users {
		if u.Role == "admin" {
			u.PasswordHash = hashes["admin"]
		} else {
			u.PasswordHash = hashes["user"]
		}
		u.CreatedAt = now
		s.users[u.ID] = u
	}
	s.seq["users"] = SeedNoAgeID

	accounts := []struct {
		userID  int64
		account string
		balance string
	}{
		{SeedBarmanID, "1000b", "20.00"},
		{SeedCustomerID, "1001c", "10.00"},
		{SeedBarman2ID, "1002d", "5.00"},
		{SeedMinorID, "1003e", "10.00"},
		{SeedNoAgeID, "1004f", "10.00"},
	}
	for _, a := range accounts {
		s.customers[a.userID] = domain.Customer{UserID: a.userID, AccountID: a.account, Balance: money.MustParse(a.balance), CreatedAt: now}
	}
	s.studentCards[1] = domain.StudentCard{ID: 1, UID: SeedStudentCardUID, CustomerID: SeedCustomerID, CreatedAt: now}
	s.seq["student_cards"] = 1

	for _, pt := range []domain.ProductType{
		{ID: 1, Name: "Bières", Order: 1},
		{ID: 2, Name: "Consignes", Order: 2},
		{ID: 3, Name: "Rechargements", Order: 3},
		{ID: 4, Name: "Billetterie", Order: 4},
	} {
		s.productTypes[pt.ID] = pt
	}
	s.seq["product_types"] = 4

	products := []domain.Product{
		{ID: SeedBeerID, Name: "Bière", Code: "BEER", ProductTypeID: int64Ptr(1), PurchasePrice: money.MustParse("0.90"), SellingPrice: money.MustParse("1.70"), SpecialSellingPrice: money.MustParse("1.00"), LimitAge: 18},
		{ID: SeedBarbID, Name: "Barbar", Code: "BARB", ProductTypeID: int64Ptr(1), PurchasePrice: money.MustParse("1.00"), SellingPrice: money.MustParse("1.70"), SpecialSellingPrice: money.MustParse("1.30"), LimitAge: 18, Tray: true},
		{ID: SeedEcocupID, Name: "Ecocup", Code: "CONS", ProductTypeID: int64Ptr(2), SellingPrice: money.MustParse("1.00"), SpecialSellingPrice: money.MustParse("1.00")},
		{ID: SeedReturnEcocupID, Name: "Retour ecocup", Code: "DECO", ProductTypeID: int64Ptr(2), SellingPrice: money.MustParse("-1.00"), SpecialSellingPrice: money.MustParse("-1.00")},
		{ID: SeedRefill15ID, Name: "Rechargement 15 €", Code: "REFILL15", ProductTypeID: int64Ptr(3), SellingPrice: money.MustParse("15.00"), SpecialSellingPrice: money.MustParse("15.00")},
		{ID: SeedCocaID, Name: "Coca", Code: "COCA", PurchasePrice: money.MustParse("0.40"), SellingPrice: money.MustParse("1.00"), SpecialSellingPrice: money.MustParse("0.80")},
		{ID: SeedGalaID, Name: "Place Gala", Code: "GALA", ProductTypeID: int64Ptr(4), SellingPrice: money.MustParse("25.00"), SpecialSellingPrice: money.MustParse("25.00")},
		{ID: SeedStaffPizzaID, Name: "Pizza staff", Code: "PIZZA", SellingPrice: money.MustParse("2.00"), SpecialSellingPrice: money.MustParse("2.00"), BuyingGroupIDs: []int64{7}},
	}
	for _, p := range products {
		p.ClubID = 1
		p.CreatedAt = now
		s.products[p.ID] = p
	}
	s.seq["products"] = SeedStaffPizzaID

	counters := []domain.Counter{
		{ID: SeedBarCounterID, Name: "Foyer", Type: domain.CounterBar, ClubID: 1, ProductIDs: []int64{SeedBeerID, SeedBarbID, SeedEcocupID, SeedReturnEcocupID, SeedCocaID, SeedStaffPizzaID}, SellerIDs: []int64{SeedBarmanID, SeedBarman2ID}},
		{ID: SeedOfficeCounterID, Name: "Bureau AE", Type: domain.CounterOffice, ClubID: 1, ProductIDs: []int64{SeedCocaID, SeedEcocupID}, SellerIDs: []int64{SeedAdminID, SeedBarmanID}},
		{ID: SeedEbouticCounterID, Name: "Eboutic", Type: domain.CounterEboutic, ClubID: 1, ProductIDs: []int64{SeedBeerID, SeedRefill15ID, SeedGalaID, SeedStaffPizzaID}},
		{ID: SeedDumpCounterID, Name: "Vidange comptes inactifs", Type: domain.CounterOffice, ClubID: 1},
	}
	for _, c := range counters {
		c.CreatedAt = now
		s.counters[c.ID] = c
	}
	s.seq["counters"] = SeedDumpCounterID

	s.returnables[SeedEcocupReturnableID] = domain.ReturnableProduct{ID: SeedEcocupReturnableID, ProductID: SeedEcocupID, ReturnedProductID: SeedReturnEcocupID, MaxReturn: 2}
	s.seq["returnables"] = SeedEcocupReturnableID

	s.etickets[1] = domain.Eticket{ID: 1, ProductID: SeedGalaID, EventTitle: "Gala de l'AE", Secret: "gala-secret"}
	s.seq["etickets"] = 1

	return s
}

func (s *Store) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

func cloneUser(u domain.User) domain.User {
	u.GroupIDs = append([]int64(nil), u.GroupIDs...)
	u.ClubIDs = append([]int64(nil), u.ClubIDs...)
	return u
}

func cloneProduct(p domain.Product) domain.Product {
	p.BuyingGroupIDs = append([]int64(nil), p.BuyingGroupIDs...)
	if p.ProductTypeID != nil {
		p.ProductTypeID = int64Ptr(*p.ProductTypeID)
	}
	return p
}

func cloneCounter(c domain.Counter) domain.Counter {
	c.ProductIDs = append([]int64(nil), c.ProductIDs...)
	c.SellerIDs = append([]int64(nil), c.SellerIDs...)
	return c
}

func cloneBasket(b domain.Basket) domain.Basket {
	b.Items = append([]domain.BasketItem(nil), b.Items...)
	return b
}

func cloneEbouticBasket(b domain.EbouticBasket) domain.EbouticBasket {
	b.Items = append([]domain.EbouticItem(nil), b.Items...)
	return b
}

func cloneSummary(s domain.CashRegisterSummary) domain.CashRegisterSummary {
	s.Items = append([]domain.CashRegisterSummaryItem(nil), s.Items...)
	return s
}

func inRange(t time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func sortCandidates(list []domain.DumpCandidate) {
	sort.Slice(list, func(i, j int) bool { return list[i].Customer.UserID < list[j].Customer.UserID })
}

func sortDumps(list []domain.AccountDump) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
