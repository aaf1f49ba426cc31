package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/eticket"
	"sith/backend/internal/store"
	"sith/backend/internal/xid"
)

const eticketSecretLength = 64

type EticketRequest struct {
	ProductID  int64      `json:"product_id" validate:"required,gt=0"`
	EventTitle string     `json:"event_title" validate:"required,max=64"`
	EventDate  *time.Time `json:"event_date"`
	Banner     string     `json:"banner" validate:"max=255"`
}

func (s *Service) CreateEticket(ctx context.Context, req EticketRequest) (domain.Eticket, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return domain.Eticket{}, err
	}
	req.EventTitle = strings.TrimSpace(req.EventTitle)
	if err := s.validate.Struct(req); err != nil {
		return domain.Eticket{}, validationError(err)
	}
	if req.Banner != "" && filepath.Base(req.Banner) != req.Banner {
		return domain.Eticket{}, domain.ValidationError("invalid input", map[string]string{"banner": "must be a file name"})
	}
	if _, err := s.repo.GetProduct(ctx, req.ProductID); err != nil {
		return domain.Eticket{}, notFound(err, "product")
	}
	secret, err := xid.Token(eticketSecretLength)
	if err != nil {
		return domain.Eticket{}, err
	}
	created, err := s.repo.CreateEticket(ctx, domain.Eticket{
		ProductID:  req.ProductID,
		BannerPath: req.Banner,
		EventTitle: req.EventTitle,
		EventDate:  req.EventDate,
		Secret:     secret,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Eticket{}, domain.NewError(domain.KindConflict, "this product already has an eticket")
		}
		return domain.Eticket{}, err
	}
	return *created, nil
}

// RenderEticket writes the ticket PDF of a sale to w. Only the buyer and
// accounting admins may fetch it.
func (s *Service) RenderEticket(ctx context.Context, saleID int64, w io.Writer) error {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return notFound(err, "sale")
	}
	if err := s.requireOwnerOrGroup(ctx, sale.CustomerID, s.settings.AccountingAdminGroup); err != nil {
		return err
	}
	if sale.ProductID == nil {
		return domain.NewError(domain.KindNotFound, "this sale has no eticket")
	}
	ticket, err := s.repo.GetEticketByProduct(ctx, *sale.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewError(domain.KindNotFound, "this sale has no eticket")
		}
		return err
	}
	buyer, err := s.repo.GetUser(ctx, sale.CustomerID)
	if err != nil {
		return notFound(err, "user")
	}

	banner := ""
	if ticket.BannerPath != "" && s.eticketStorage != "" {
		banner = filepath.Join(s.eticketStorage, ticket.BannerPath)
	}
	return eticket.Render(w, eticket.Ticket{
		UserID:     buyer.ID,
		ProductID:  ticket.ProductID,
		SaleID:     sale.ID,
		Quantity:   sale.Quantity,
		Secret:     ticket.Secret,
		Title:      ticket.EventTitle,
		EventDate:  ticket.EventDate,
		BuyerName:  buyer.DisplayName(),
		BannerPath: banner,
	})
}
