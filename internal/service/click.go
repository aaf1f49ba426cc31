package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/metrics"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

var codePattern = regexp.MustCompile(`^(?:([0-9]+)X)?([A-Z0-9]+)$`)

const (
	codeFinish = "FIN"
	codeCancel = "ANN"
)

// click bundles everything a basket operation needs.
type click struct {
	state    *counterState
	customer domain.Customer
	user     domain.User
	groups   []int64
	basket   domain.Basket
}

func (s *Service) openClick(ctx context.Context, sess CounterSession, customerID int64) (*click, error) {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return nil, err
	}
	customer, user, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	groups, err := s.userGroups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	basket, err := s.repo.GetBasket(ctx, st.counter.ID, customer.UserID, sess.Owner)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		basket = &domain.Basket{CounterID: st.counter.ID, CustomerID: customer.UserID, OwnerSession: sess.Owner}
	default:
		return nil, err
	}
	return &click{state: st, customer: customer, user: user, groups: groups, basket: *basket}, nil
}

// ClickView is the state of a click session.
type ClickView struct {
	Counter       domain.Counter             `json:"counter"`
	Customer      domain.Customer            `json:"customer"`
	CustomerName  string                     `json:"customer_name"`
	Basket        domain.Basket              `json:"basket"`
	BasketTotal   money.Money                `json:"basket_total"`
	Products      []ProductOffer             `json:"products"`
	Returnables   []domain.ReturnableBalance `json:"returnables"`
	StudentCards  []domain.StudentCard       `json:"student_cards"`
	RefillMethods []domain.PaymentMethod     `json:"refill_methods"`
	Banks         []string                   `json:"banks"`
}

type ProductOffer struct {
	domain.Product
	Price money.Money `json:"price"`
}

func (s *Service) OpenClick(ctx context.Context, sess CounterSession, customerID int64) (ClickView, error) {
	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return ClickView{}, err
	}
	return s.clickView(ctx, c)
}

func (s *Service) clickView(ctx context.Context, c *click) (ClickView, error) {
	products, err := s.counterProducts(ctx, c.state.counter, c.groups)
	if err != nil {
		return ClickView{}, err
	}
	offers := make([]ProductOffer, 0, len(products))
	for _, p := range products {
		offers = append(offers, ProductOffer{Product: p, Price: priceFor(p, c.customer.UserID, c.state)})
	}
	balances, err := s.repo.ReturnableBalances(ctx, c.customer.UserID)
	if err != nil {
		return ClickView{}, err
	}
	cards, err := s.repo.ListStudentCards(ctx, c.customer.UserID)
	if err != nil {
		return ClickView{}, err
	}
	methods := s.settings.RefillMethods[c.state.counter.Type]
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	return ClickView{
		Counter:       c.state.counter,
		Customer:      c.customer,
		CustomerName:  c.user.DisplayName(),
		Basket:        c.basket,
		BasketTotal:   c.basket.Total(),
		Products:      offers,
		Returnables:   balances,
		StudentCards:  cards,
		RefillMethods: methods,
		Banks:         domain.Banks,
	}, nil
}

// trayLine spreads units over chargeable and bonus quantities: every
// size-th unit is free.
func trayLine(item domain.BasketItem, units int, size int) domain.BasketItem {
	if size <= 0 {
		item.Quantity = units
		item.BonusQuantity = 0
		return item
	}
	item.BonusQuantity = units / size
	item.Quantity = units - item.BonusQuantity
	return item
}

// depositEffect is the change the basket would bring to each returnable.
func depositEffect(returnables []domain.ReturnableProduct, basket domain.Basket) map[int64]int {
	deltas := map[int64]int{}
	for _, item := range basket.Items {
		deltas = store.MergeDeltas(deltas, store.DepositDeltas(returnables, item.ProductID, item.Quantity+item.BonusQuantity))
	}
	return deltas
}

func (s *Service) addProduct(ctx context.Context, c *click, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ValidationError("quantity must be positive", map[string]string{"quantity": "must be at least 1"})
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrProductUnavailable
		}
		return err
	}
	if product.Archived || !c.state.counter.HasProduct(product.ID) || !eligible(*product, c.groups) {
		return domain.ErrProductUnavailable
	}

	next := c.basket
	next.Items = append([]domain.BasketItem(nil), c.basket.Items...)
	line, idx := next.Item(product.ID)
	if idx < 0 {
		line = domain.BasketItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Code:        product.Code,
			UnitPrice:   priceFor(*product, c.customer.UserID, c.state),
		}
	}
	units := line.Quantity + line.BonusQuantity + quantity
	if product.Tray {
		line = trayLine(line, units, s.settings.TraySize)
	} else {
		line.Quantity = units
	}
	if idx < 0 {
		next.Items = append(next.Items, line)
	} else {
		next.Items[idx] = line
	}

	if next.Total().GreaterThan(c.customer.Balance) {
		return domain.ErrInsufficientFunds
	}
	if err := s.checkAge(*product, c.user, c.groups, s.now()); err != nil {
		return err
	}
	if err := s.checkDeposits(ctx, c.customer.UserID, product.ID, next); err != nil {
		return err
	}

	c.basket = next
	return nil
}

// checkDeposits refuses a basket that would let the customer return more
// containers than they took out plus the grace margin.
func (s *Service) checkDeposits(ctx context.Context, customerID int64, productID int64, basket domain.Basket) error {
	returnables, err := s.repo.ListReturnables(ctx)
	if err != nil {
		return err
	}
	returned := false
	for _, r := range returnables {
		if r.ReturnedProductID == productID {
			returned = true
			break
		}
	}
	if !returned {
		return nil
	}

	balances, err := s.repo.ReturnableBalances(ctx, customerID)
	if err != nil {
		return err
	}
	pending := depositEffect(returnables, basket)
	for _, b := range balances {
		if b.Returnable.ReturnedProductID != productID {
			continue
		}
		if b.Balance+pending[b.Returnable.ID] < -b.Returnable.MaxReturn {
			return domain.ErrDepositLimitExceeded
		}
	}
	return nil
}

func (s *Service) saveBasket(ctx context.Context, c *click) (domain.Basket, error) {
	if len(c.basket.Items) == 0 {
		if err := s.repo.DeleteBasket(ctx, c.basket.CounterID, c.basket.CustomerID, c.basket.OwnerSession); err != nil {
			return domain.Basket{}, err
		}
		c.basket.ID = 0
		return c.basket, nil
	}
	c.basket.UpdatedAt = s.now()
	saved, err := s.repo.SaveBasket(ctx, c.basket)
	if err != nil {
		return domain.Basket{}, err
	}
	c.basket = *saved
	return *saved, nil
}

func clickFailed(err error) error {
	if kind := domain.KindOf(err); kind != "" {
		metrics.ClickErrorsTotal.WithLabelValues(string(kind)).Inc()
	}
	return err
}

// AddProduct adds quantity units of a product to the basket. On error the
// basket is left as it was.
func (s *Service) AddProduct(ctx context.Context, sess CounterSession, customerID int64, productID int64, quantity int) (domain.Basket, error) {
	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return domain.Basket{}, err
	}
	if err := s.addProduct(ctx, c, productID, quantity); err != nil {
		return c.basket, clickFailed(err)
	}
	return s.saveBasket(ctx, c)
}

// RemoveProduct takes one unit of a product out of the basket.
func (s *Service) RemoveProduct(ctx context.Context, sess CounterSession, customerID int64, productID int64) (domain.Basket, error) {
	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return domain.Basket{}, err
	}
	line, idx := c.basket.Item(productID)
	if idx < 0 {
		return c.basket, clickFailed(domain.NewError(domain.KindNotFound, "product is not in the basket"))
	}
	units := line.Quantity + line.BonusQuantity - 1
	items := append([]domain.BasketItem(nil), c.basket.Items...)
	if units <= 0 {
		items = append(items[:idx], items[idx+1:]...)
	} else {
		tray := line.BonusQuantity > 0
		if !tray {
			if product, err := s.repo.GetProduct(ctx, productID); err == nil {
				tray = product.Tray
			}
		}
		if tray {
			items[idx] = trayLine(line, units, s.settings.TraySize)
		} else {
			line.Quantity = units
			items[idx] = line
		}
	}
	c.basket.Items = items
	return s.saveBasket(ctx, c)
}

// Cancel drops the basket without any ledger effect.
func (s *Service) Cancel(ctx context.Context, sess CounterSession, customerID int64) error {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return err
	}
	return s.repo.DeleteBasket(ctx, st.counter.ID, customerID, sess.Owner)
}

type CodeAction string

const (
	CodeAdded     CodeAction = "added"
	CodeFinished  CodeAction = "finished"
	CodeCancelled CodeAction = "cancelled"
)

type CodeResult struct {
	Action   CodeAction           `json:"action"`
	Basket   domain.Basket        `json:"basket"`
	Purchase *domain.LastPurchase `json:"purchase,omitempty"`
}

// ParseCode handles the barman code input: FIN, ANN or [nX]CODE.
func (s *Service) ParseCode(ctx context.Context, sess CounterSession, customerID int64, code string) (CodeResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch code {
	case codeFinish:
		purchase, err := s.Finish(ctx, sess, customerID)
		if err != nil {
			return CodeResult{}, err
		}
		return CodeResult{Action: CodeFinished, Purchase: &purchase}, nil
	case codeCancel:
		if err := s.Cancel(ctx, sess, customerID); err != nil {
			return CodeResult{}, err
		}
		return CodeResult{Action: CodeCancelled}, nil
	}

	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return CodeResult{}, clickFailed(domain.ValidationError("malformed code", map[string]string{"code": "expected [nX]CODE"}))
	}
	quantity := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return CodeResult{}, clickFailed(domain.ValidationError("malformed code", map[string]string{"code": "quantity must be positive"}))
		}
		quantity = n
	}

	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return CodeResult{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return CodeResult{}, err
	}
	var productID int64
	for _, p := range products {
		if p.Code == m[2] && c.state.counter.HasProduct(p.ID) && !p.Archived {
			productID = p.ID
			break
		}
	}
	if productID == 0 {
		return CodeResult{Basket: c.basket}, clickFailed(domain.ErrProductUnavailable)
	}
	if err := s.addProduct(ctx, c, productID, quantity); err != nil {
		return CodeResult{Basket: c.basket}, clickFailed(err)
	}
	basket, err := s.saveBasket(ctx, c)
	if err != nil {
		return CodeResult{}, err
	}
	return CodeResult{Action: CodeAdded, Basket: basket}, nil
}

// Finish commits the basket: one sale per line, one free sale per tray
// bonus, all under the customer row lock. The basket survives a failed
// commit.
func (s *Service) Finish(ctx context.Context, sess CounterSession, customerID int64) (domain.LastPurchase, error) {
	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return domain.LastPurchase{}, err
	}
	if len(c.basket.Items) == 0 {
		return domain.LastPurchase{}, domain.ValidationError("the basket is empty", nil)
	}

	returnables, err := s.repo.ListReturnables(ctx)
	if err != nil {
		return domain.LastPurchase{}, err
	}
	lines := append([]domain.BasketItem(nil), c.basket.Items...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].UnitPrice.LessThan(lines[j].UnitPrice) })

	var seller *int64
	switch c.state.counter.Type {
	case domain.CounterBar:
		seller = c.state.seller(c.customer.UserID)
	case domain.CounterOffice:
		if actor, ok := ActorFromContext(ctx); ok {
			id := actor.UserID
			seller = &id
		}
	}

	sales := make([]domain.Sale, 0, len(lines)+1)
	for _, line := range lines {
		productID := line.ProductID
		clubID := s.settings.MainClubID
		if product, err := s.repo.GetProduct(ctx, productID); err == nil {
			clubID = product.ClubID
		}
		if line.Quantity > 0 {
			sales = append(sales, domain.Sale{
				Label:         line.ProductName,
				CounterID:     c.state.counter.ID,
				ClubID:        clubID,
				ProductID:     &productID,
				SellerID:      seller,
				UnitPrice:     line.UnitPrice,
				Quantity:      line.Quantity,
				PaymentMethod: domain.PaymentAccount,
				IsValidated:   true,
			})
		}
		if line.BonusQuantity > 0 {
			sales = append(sales, domain.Sale{
				Label:         line.ProductName + " (Plateau)",
				CounterID:     c.state.counter.ID,
				ClubID:        clubID,
				ProductID:     &productID,
				SellerID:      seller,
				UnitPrice:     money.Zero,
				Quantity:      line.BonusQuantity,
				PaymentMethod: domain.PaymentAccount,
				IsValidated:   true,
			})
		}
	}

	result, err := s.repo.ChargeCustomer(ctx, domain.Charge{
		CustomerID:    c.customer.UserID,
		Sales:         sales,
		DepositDeltas: depositEffect(returnables, c.basket),
		DepositLimits: store.DepositLimits(returnables),
		Basket: &domain.BasketKey{
			CounterID:    c.state.counter.ID,
			CustomerID:   c.customer.UserID,
			OwnerSession: sess.Owner,
		},
	})
	if err != nil {
		metrics.BasketFinishTotal.WithLabelValues("failed").Inc()
		return domain.LastPurchase{}, ledgerFailed(err, "customer")
	}
	metrics.BasketFinishTotal.WithLabelValues("ok").Inc()
	metrics.SalesTotal.WithLabelValues(string(domain.PaymentAccount)).Add(float64(len(result.Sales)))

	purchase := domain.LastPurchase{
		CounterID:       c.state.counter.ID,
		OwnerSession:    sess.Owner,
		CustomerID:      c.customer.UserID,
		AccountID:       c.customer.AccountID,
		CustomerName:    c.user.DisplayName(),
		PreviousBalance: c.customer.Balance,
		Total:           c.basket.Total(),
		NewBalance:      result.Customer.Balance,
		Items:           c.basket.Items,
		At:              s.now(),
	}
	if err := s.repo.SaveLastPurchase(ctx, purchase); err != nil {
		s.log.Warn("failed to store last purchase", zap.Int64("counter_id", c.state.counter.ID), zap.Error(err))
	}
	return purchase, nil
}

// AddStudentCardAtCounter registers a card for the customer being served.
func (s *Service) AddStudentCardAtCounter(ctx context.Context, sess CounterSession, customerID int64, uid string) (domain.StudentCard, error) {
	c, err := s.openClick(ctx, sess, customerID)
	if err != nil {
		return domain.StudentCard{}, err
	}
	return s.createStudentCard(ctx, c.customer.UserID, uid)
}
