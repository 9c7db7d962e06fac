package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrSpecNotFound    = errors.New("spec not found")
	ErrSpecPublished   = errors.New("published specs cannot be changed")
	ErrNoArtwork       = errors.New("spec has no artwork")
	ErrNoVariants      = errors.New("spec has no variants mapping")
	ErrInvalidInput    = errors.New("invalid input")
)

type Repository interface {
	UpsertProduct(ctx context.Context, p *catalog.Product) error
	FindProduct(ctx context.Context, id string) (*catalog.Product, error)
	FindSpec(ctx context.Context, id string) (*catalog.PrintSpec, error)
	ListSpecs(ctx context.Context, productID string) ([]catalog.PrintSpec, error)
	CreateSpec(ctx context.Context, s *catalog.PrintSpec) error
	UpdateSpec(ctx context.Context, s *catalog.PrintSpec) error
	ReplaceVariants(ctx context.Context, specID string, variants []catalog.Variant) error
	PublishSpec(ctx context.Context, specID, productID string) error
}

// Service manages products and their versioned print specs.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, newID: uuid.NewString, log: logger.New("catalog")}
}

func (s *Service) SaveProduct(ctx context.Context, p *catalog.Product) error {
	p.Name, p.Slug = strings.TrimSpace(p.Name), strings.TrimSpace(p.Slug)
	if p.ID == "" || p.Name == "" || p.Slug == "" || p.PriceCents < 0 {
		return fmt.Errorf("%w: product needs id, name, slug and a non-negative price", ErrInvalidInput)
	}
	return s.repo.UpsertProduct(ctx, p)
}

func (s *Service) ListSpecs(ctx context.Context, productID string) ([]catalog.PrintSpec, error) {
	if _, err := s.product(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListSpecs(ctx, productID)
}

// CreateDraft adds the next spec version for the product.
func (s *Service) CreateDraft(ctx context.Context, productID string) (*catalog.PrintSpec, error) {
	if _, err := s.product(ctx, productID); err != nil {
		return nil, err
	}
	sp := &catalog.PrintSpec{
		ID:        s.newID(),
		ProductID: productID,
		Colors:    []string{},
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateSpec(ctx, sp); err != nil {
		return nil, fmt.Errorf("create spec: %w", err)
	}
	s.log.Info("spec draft created", "product", productID, "spec", sp.ID, "version", sp.Version)
	return sp, nil
}

// UpdateSpec applies patch to a draft spec.
func (s *Service) UpdateSpec(ctx context.Context, specID string, patch catalog.SpecPatch) (*catalog.PrintSpec, error) {
	sp, err := s.draft(ctx, specID)
	if err != nil {
		return nil, err
	}
	if patch.FrontFileURL != nil {
		sp.FrontFileURL = emptyToNil(*patch.FrontFileURL)
	}
	if patch.BackFileURL != nil {
		sp.BackFileURL = emptyToNil(*patch.BackFileURL)
	}
	if patch.DPI != nil {
		if *patch.DPI <= 0 {
			return nil, fmt.Errorf("%w: dpi must be positive", ErrInvalidInput)
		}
		sp.DPI = *patch.DPI
	}
	if patch.Colors != nil {
		for _, c := range patch.Colors {
			if strings.TrimSpace(c) == "" {
				return nil, fmt.Errorf("%w: empty colour", ErrInvalidInput)
			}
		}
		sp.Colors = patch.Colors
	}
	if patch.PriceCents != nil {
		if *patch.PriceCents <= 0 {
			return nil, fmt.Errorf("%w: price override must be positive", ErrInvalidInput)
		}
		sp.PriceCents = patch.PriceCents
	}

	err = s.repo.UpdateSpec(ctx, sp)
	if errors.Is(err, storage.ErrNotFound) {
		// published between the read and the write
		return nil, ErrSpecPublished
	}
	if err != nil {
		return nil, fmt.Errorf("update spec: %w", err)
	}
	return sp, nil
}

// ReplaceVariants swaps the whole size/colour mapping of a draft spec.
func (s *Service) ReplaceVariants(ctx context.Context, specID string, variants []catalog.Variant) (*catalog.PrintSpec, error) {
	sp, err := s.draft(ctx, specID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(variants))
	out := make([]catalog.Variant, 0, len(variants))
	for _, v := range variants {
		v.Size, v.Color, v.ProductUID = strings.TrimSpace(v.Size), strings.TrimSpace(v.Color), strings.TrimSpace(v.ProductUID)
		if v.Size == "" || v.Color == "" || v.ProductUID == "" {
			return nil, fmt.Errorf("%w: variant needs size, colour and productUid", ErrInvalidInput)
		}
		combo := strings.ToUpper(v.Size) + "/" + strings.ToUpper(v.Color)
		if seen[combo] {
			return nil, fmt.Errorf("%w: duplicate variant %s", ErrInvalidInput, combo)
		}
		seen[combo] = true
		v.ID = s.newID()
		v.SpecID = specID
		out = append(out, v)
	}
	if err := s.repo.ReplaceVariants(ctx, specID, out); err != nil {
		return nil, fmt.Errorf("replace variants: %w", err)
	}
	sp.Variants = out
	return sp, nil
}

// Publish locks the spec and makes it the product's current spec. Orders
// already placed keep the spec they were priced with.
func (s *Service) Publish(ctx context.Context, specID string) (*catalog.PrintSpec, error) {
	sp, err := s.spec(ctx, specID)
	if err != nil {
		return nil, err
	}
	if !sp.HasArtwork() {
		return nil, ErrNoArtwork
	}
	if len(sp.Variants) == 0 {
		return nil, ErrNoVariants
	}
	if err := s.repo.PublishSpec(ctx, sp.ID, sp.ProductID); err != nil {
		return nil, fmt.Errorf("publish spec: %w", err)
	}
	sp.IsPublished = true
	s.log.Info("spec published", "product", sp.ProductID, "spec", sp.ID, "version", sp.Version)
	return sp, nil
}

func (s *Service) product(ctx context.Context, id string) (*catalog.Product, error) {
	p, err := s.repo.FindProduct(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

func (s *Service) spec(ctx context.Context, id string) (*catalog.PrintSpec, error) {
	sp, err := s.repo.FindSpec(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSpecNotFound
	}
	return sp, err
}

func (s *Service) draft(ctx context.Context, id string) (*catalog.PrintSpec, error) {
	sp, err := s.spec(ctx, id)
	if err != nil {
		return nil, err
	}
	if sp.IsPublished {
		return nil, ErrSpecPublished
	}
	return sp, nil
}

func emptyToNil(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
