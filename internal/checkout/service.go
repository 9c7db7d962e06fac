package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/payment"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/antonminaichev/tstore/internal/types/order"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	SupportedCurrency = "GBP"
	// MinTotalCents is the smallest amount the payment processor will charge.
	MinTotalCents = 50
)

var (
	ErrValidation            = errors.New("invalid checkout request")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrDestinationIneligible = errors.New("we cannot ship to this country")
	ErrProductNotFound       = errors.New("product not found")
	ErrProductUnavailable    = errors.New("product is not available for purchase")
	ErrVariantUnavailable    = errors.New("size/colour combination is not available")
	ErrInvalidPrice          = errors.New("product has no valid price")
	ErrOrderTooSmall         = errors.New("order total is below the minimum")
	ErrPaymentUnavailable    = errors.New("payment could not be started")
)

var blockedCountries = []string{"CU", "IR", "KP", "SY", "SD", "SS", "RU", "BY"}

// ShippingEligible reports whether orders can be shipped to the ISO-2 country.
func ShippingEligible(country string) bool {
	return !slices.Contains(blockedCountries, strings.ToUpper(strings.TrimSpace(country)))
}

type LineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Color     string `json:"color" validate:"required"`
	Qty       int    `json:"qty" validate:"min=1"`
}

type Request struct {
	Currency        string        `json:"currency"`
	Email           string        `json:"email" validate:"required,email"`
	ShippingAddress order.Address `json:"shippingAddress"`
	Items           []LineRequest `json:"items" validate:"required,min=1,dive"`
}

type Result struct {
	OrderID      string `json:"orderId"`
	ClientSecret string `json:"clientSecret"`
}

type FieldIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every field that failed boundary validation.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+" ("+is.Rule+")")
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// VariantUnavailableError names the requested combination and what the product offers.
type VariantUnavailableError struct {
	Product   string
	Wanted    string
	Available []string
}

func (e *VariantUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s is not available (available: %s)",
		e.Product, e.Wanted, strings.Join(e.Available, ", "))
}

func (e *VariantUnavailableError) Unwrap() error { return ErrVariantUnavailable }

type Repository interface {
	FindProduct(ctx context.Context, id string) (*catalog.Product, error)
	FindSpec(ctx context.Context, id string) (*catalog.PrintSpec, error)
	CreateOrder(ctx context.Context, o *order.Order) error
	DeleteDraftOrder(ctx context.Context, id string) error
	SetPaymentRef(ctx context.Context, id, ref string) error
}

type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, in payment.IntentRequest, idempotencyKey string) (*payment.Intent, error)
}

type Service struct {
	repo     Repository
	payments IntentCreator
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	log      *slog.Logger
}

var phoneChars = regexp.MustCompile(`^[\d+().\-\s]+$`)

func NewService(repo Repository, payments IntentCreator) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneChars.MatchString(fl.Field().String())
	})
	return &Service{
		repo:     repo,
		payments: payments,
		validate: v,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.New("checkout"),
	}
}

// Checkout validates the cart, persists a DRAFT order and starts a payment for it.
// Nothing is persisted unless every line is valid, and no order outlives a
// failed payment start.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.checkout(ctx, req)
	if err != nil {
		metrics.Checkout.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	metrics.Checkout.WithLabelValues("ok").Inc()
	return res, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = SupportedCurrency
	}
	if currency != SupportedCurrency {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	if !ShippingEligible(req.ShippingAddress.Country) {
		return nil, fmt.Errorf("%w: %s", ErrDestinationIneligible, strings.ToUpper(req.ShippingAddress.Country))
	}

	o := &order.Order{
		ID:        s.newID(),
		Status:    order.StatusDraft,
		Currency:  currency,
		Email:     strings.TrimSpace(req.Email),
		Shipping:  req.ShippingAddress,
		CreatedAt: s.now().UTC(),
	}
	o.Shipping.Country = strings.ToUpper(o.Shipping.Country)

	for _, line := range req.Items {
		item, err := s.priceLine(ctx, line)
		if err != nil {
			return nil, err
		}
		item.ID = s.newID()
		item.OrderID = o.ID
		o.Items = append(o.Items, item)
		o.SubtotalCents += item.LineTotalCents
	}

	o.ShippingCents, o.TaxCents = quote(o)
	o.TotalCents = o.SubtotalCents + o.ShippingCents + o.TaxCents
	if o.TotalCents < MinTotalCents {
		return nil, fmt.Errorf("%w: %d < %d", ErrOrderTooSmall, o.TotalCents, MinTotalCents)
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, payment.IntentRequest{
		AmountCents: o.TotalCents,
		Currency:    o.Currency,
		Email:       o.Email,
		Metadata:    map[string]string{"orderId": o.ID},
	}, "checkout-"+o.ID)
	if err != nil {
		s.discard(ctx, o.ID)
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	if err := s.repo.SetPaymentRef(ctx, o.ID, intent.ID); err != nil {
		s.discard(ctx, o.ID)
		return nil, fmt.Errorf("store payment ref: %w", err)
	}

	s.log.Info("order created", "order", o.ID, "total", o.TotalCents, "items", len(o.Items))
	return &Result{OrderID: o.ID, ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) validateRequest(req Request) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Issues = append(ve.Issues, FieldIssue{Field: strings.TrimPrefix(fe.Namespace(), "Request."), Rule: fe.Tag()})
	}
	return ve
}

// priceLine resolves one cart line against the product's published spec and
// freezes price, names and partner variant into the item.
func (s *Service) priceLine(ctx context.Context, line LineRequest) (order.Item, error) {
	p, err := s.repo.FindProduct(ctx, line.ProductID)
	if errors.Is(err, storage.ErrNotFound) {
		return order.Item{}, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
	}
	if err != nil {
		return order.Item{}, fmt.Errorf("find product: %w", err)
	}
	if p.CurrentSpecID == nil {
		return order.Item{}, fmt.Errorf("%w: %s", ErrProductUnavailable, p.Name)
	}
	spec, err := s.repo.FindSpec(ctx, *p.CurrentSpecID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !spec.IsPublished) {
		return order.Item{}, fmt.Errorf("%w: %s", ErrProductUnavailable, p.Name)
	}
	if err != nil {
		return order.Item{}, fmt.Errorf("find spec: %w", err)
	}

	v, ok := spec.FindVariant(line.Size, line.Color)
	if !ok {
		return order.Item{}, &VariantUnavailableError{
			Product:   p.Name,
			Wanted:    strings.TrimSpace(line.Size) + "/" + strings.TrimSpace(line.Color),
			Available: spec.Combos(),
		}
	}

	unit := p.UnitPrice(spec)
	if unit <= 0 {
		return order.Item{}, fmt.Errorf("%w: %s", ErrInvalidPrice, p.Name)
	}

	return order.Item{
		ProductID:         p.ID,
		ProductName:       p.Name,
		ProductSlug:       p.Slug,
		Size:              v.Size,
		Color:             v.Color,
		Qty:               line.Qty,
		UnitPriceCents:    unit,
		LineTotalCents:    unit * int64(line.Qty),
		SpecID:            spec.ID,
		VariantProductUID: v.ProductUID,
	}, nil
}

// quote returns shipping and tax for the order. Both are flat zero for now.
// TODO: replace with partner shipping quotes once destination pricing is agreed.
func quote(*order.Order) (shipping, tax int64) {
	return 0, 0
}

func (s *Service) discard(ctx context.Context, id string) {
	if err := s.repo.DeleteDraftOrder(context.WithoutCancel(ctx), id); err != nil {
		s.log.Error("delete draft order", "order", id, "err", err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrPaymentUnavailable):
		return "payment_error"
	case errors.Is(err, ErrUnsupportedCurrency), errors.Is(err, ErrDestinationIneligible),
		errors.Is(err, ErrProductNotFound), errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrVariantUnavailable), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrOrderTooSmall):
		return "rejected"
	default:
		return "error"
	}
}
