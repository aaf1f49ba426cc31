package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store/memory"
)

func TestNextAccountID(t *testing.T) {
	tests := []struct {
		name  string
		last  string
		start int
		want  string
	}{
		{"empty registry", "", 1000, "1000k"},
		{"increments prefix", "1004f", 1000, "1005k"},
		{"floored at start", "12a", 1000, "1000k"},
		{"wide prefix", "99999z", 1, "100000k"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextAccountID(tc.last, tc.start, 'k'))
		})
	}
}

func TestGetOrCreateCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, isNew, err := svc.GetOrCreateCustomer(ctx, memory.SeedAdminID)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Regexp(t, `^1005[a-z]$`, created.AccountID)
	assert.True(t, created.Balance.IsZero())

	again, isNew, err := svc.GetOrCreateCustomer(ctx, memory.SeedAdminID)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.AccountID, again.AccountID)

	_, _, err = svc.GetOrCreateCustomer(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStudentCardPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	owner := asUser(memory.SeedCustomerID, "sli")

	card, err := svc.AddStudentCard(owner, memory.SeedCustomerID, "0123456789ABCD")
	require.NoError(t, err)

	_, err = svc.AddStudentCard(asUser(memory.SeedBarmanID, "skia"), memory.SeedCustomerID, "0123456789ABCE")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.AddStudentCard(owner, memory.SeedCustomerID, "0123456789ABC")
	assert.ErrorIs(t, err, domain.ErrInvalidStudentCardUID)

	cards, err := svc.ListStudentCards(owner, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)

	err = svc.DeleteStudentCard(asUser(memory.SeedBarmanID, "skia"), card.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	require.NoError(t, svc.DeleteStudentCard(asAdmin(), card.ID))

	_, err = svc.AddStudentCard(context.Background(), memory.SeedCustomerID, "0123456789ABCF")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestBillingInfoValidation(t *testing.T) {
	svc, _ := newTestService(t)
	owner := asUser(memory.SeedCustomerID, "sli")

	view, err := svc.GetBillingInfo(owner, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, domain.BillingEmpty, view.State)

	_, err = svc.UpsertBillingInfo(owner, memory.SeedCustomerID, domain.BillingInfo{
		FirstName: "Averyveryverylongfirstname", LastName: "Customer", Address1: "1 rue", ZipCode: "90000", City: "Belfort", Country: "FR",
	})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindValidation, de.Kind)
	assert.Contains(t, de.Fields, "first_name")

	_, err = svc.UpsertBillingInfo(owner, memory.SeedCustomerID, domain.BillingInfo{
		FirstName: "Sli", LastName: "Customer", Address1: "1 rue", ZipCode: "90000", City: "Belfort", Country: "FR", PhoneNumber: "0612",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.GetBillingInfo(asUser(memory.SeedBarmanID, "skia"), memory.SeedCustomerID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err = svc.UpsertBillingInfo(asAdmin(), memory.SeedCustomerID, domain.BillingInfo{
		FirstName: "Sli", LastName: "Customer", Address1: "1 rue", ZipCode: "90000", City: "Belfort", Country: "BE", PhoneNumber: "+32470123456",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BillingValid, view.State)
}

func TestEticketRendering(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	gala := memory.SeedGalaID

	res, err := repo.ChargeCustomer(ctx, domain.Charge{CustomerID: memory.SeedCustomerID, Sales: []domain.Sale{{
		Label: "Place Gala", CounterID: memory.SeedEbouticCounterID, ClubID: 1, ProductID: &gala,
		UnitPrice: money.MustParse("25.00"), Quantity: 2, PaymentMethod: domain.PaymentCard, IsValidated: true,
	}}})
	require.NoError(t, err)
	saleID := res.Sales[0].ID

	var buf bytes.Buffer
	require.NoError(t, svc.RenderEticket(asUser(memory.SeedCustomerID, "sli"), saleID, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))

	buf.Reset()
	err = svc.RenderEticket(asUser(memory.SeedBarmanID, "skia"), saleID, &buf)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, svc.RenderEticket(asAdmin(), saleID, &buf))

	beer := memory.SeedBeerID
	res, err = repo.ChargeCustomer(ctx, domain.Charge{CustomerID: memory.SeedCustomerID, Sales: []domain.Sale{{
		Label: "Bière", CounterID: memory.SeedBarCounterID, ClubID: 1, ProductID: &beer,
		UnitPrice: money.MustParse("1.70"), Quantity: 1, PaymentMethod: domain.PaymentAccount, IsValidated: true,
	}}})
	require.NoError(t, err)
	err = svc.RenderEticket(asUser(memory.SeedCustomerID, "sli"), res.Sales[0].ID, &buf)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateEticket(t *testing.T) {
	svc, _ := newTestService(t)

	ticket, err := svc.CreateEticket(asAdmin(), EticketRequest{ProductID: memory.SeedBeerID, EventTitle: "Soirée bière", Banner: "beer.png"})
	require.NoError(t, err)
	assert.Len(t, ticket.Secret, eticketSecretLength)

	_, err = svc.CreateEticket(asAdmin(), EticketRequest{ProductID: memory.SeedCocaID, EventTitle: "Coca", Banner: "../../etc/passwd"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateEticket(asUser(memory.SeedBarmanID, "skia"), EticketRequest{ProductID: memory.SeedCocaID, EventTitle: "Coca"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestProductAdministration(t *testing.T) {
	svc, _ := newTestService(t)
	admin := asAdmin()
	typeID := int64(1)

	product, err := svc.CreateProduct(admin, ProductRequest{
		Name: "Cidre", Code: "cidr", ProductTypeID: &typeID,
		SellingPrice: money.MustParse("2.00"), SpecialSellingPrice: money.MustParse("1.50"),
		LimitAge: 18, CounterIDs: []int64{memory.SeedBarCounterID},
	})
	require.NoError(t, err)
	assert.Equal(t, "CIDR", product.Code)

	products, err := svc.ListProductsFor(context.Background(), memory.SeedCustomerID, memory.SeedBarCounterID)
	require.NoError(t, err)
	var codes []string
	for _, p := range products {
		codes = append(codes, p.Code)
	}
	assert.Contains(t, codes, "CIDR")
	assert.NotContains(t, codes, "PIZZA")

	archived := true
	_, err = svc.UpdateProduct(admin, product.ID, ProductUpdate{Archived: &archived})
	require.NoError(t, err)
	products, err = svc.ListProductsFor(context.Background(), memory.SeedCustomerID, memory.SeedBarCounterID)
	require.NoError(t, err)
	for _, p := range products {
		assert.NotEqual(t, product.ID, p.ID)
	}

	_, err = svc.CreateProduct(asUser(memory.SeedCustomerID, "sli"), ProductRequest{Name: "x", Code: "X"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.CreateProduct(admin, ProductRequest{Name: "", Code: "X"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMoveProductType(t *testing.T) {
	svc, _ := newTestService(t)
	admin := asAdmin()
	first, last := int64(1), int64(4)

	types, err := svc.MoveProductType(admin, 4, MoveRequest{Above: &first})
	require.NoError(t, err)
	var order []int64
	for _, pt := range types {
		order = append(order, pt.ID)
	}
	assert.Equal(t, []int64{4, 1, 2, 3}, order)

	_, err = svc.MoveProductType(admin, 4, MoveRequest{Above: &first, Below: &last})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.MoveProductType(admin, 4, MoveRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.MoveProductType(admin, 4, MoveRequest{Below: &last})
	assert.ErrorIs(t, err, domain.ErrValidation)

	missing := int64(42)
	_, err = svc.MoveProductType(admin, 4, MoveRequest{Below: &missing})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateReturnableRecomputesBalances(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	beer, coca := memory.SeedBeerID, memory.SeedCocaID

	_, err := repo.ChargeCustomer(ctx, domain.Charge{CustomerID: memory.SeedCustomerID, Sales: []domain.Sale{
		{Label: "Bière", CounterID: memory.SeedBarCounterID, ClubID: 1, ProductID: &beer, UnitPrice: money.MustParse("1.70"), Quantity: 3, PaymentMethod: domain.PaymentAccount},
		{Label: "Coca", CounterID: memory.SeedBarCounterID, ClubID: 1, ProductID: &coca, UnitPrice: money.MustParse("1.00"), Quantity: 1, PaymentMethod: domain.PaymentAccount},
	}})
	require.NoError(t, err)

	r, err := svc.CreateReturnable(asAdmin(), ReturnableRequest{ProductID: beer, ReturnedProductID: coca, MaxReturn: 0})
	require.NoError(t, err)

	balances, err := svc.ReturnableBalancesFor(ctx, memory.SeedCustomerID)
	require.NoError(t, err)
	found := false
	for _, b := range balances {
		if b.Returnable.ID == r.ID {
			found = true
			assert.Equal(t, 2, b.Balance)
		}
	}
	assert.True(t, found)

	_, err = svc.CreateReturnable(asAdmin(), ReturnableRequest{ProductID: beer, ReturnedProductID: coca})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CreateReturnable(asAdmin(), ReturnableRequest{ProductID: beer, ReturnedProductID: beer})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
