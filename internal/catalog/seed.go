package catalog

import (
	"context"
	"fmt"
	"io"

	"github.com/antonminaichev/tstore/internal/types/catalog"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	catalog.Product `yaml:",inline"`
	Specs           []seedSpec `yaml:"specs"`
}

type seedSpec struct {
	FrontFileURL *string           `yaml:"frontFileUrl"`
	BackFileURL  *string           `yaml:"backFileUrl"`
	DPI          *int              `yaml:"dpi"`
	Colors       []string          `yaml:"colors"`
	PriceCents   *int64            `yaml:"priceCents"`
	Publish      bool              `yaml:"publish"`
	Variants     []catalog.Variant `yaml:"variants"`
}

type SeedReport struct {
	Products  int
	Specs     int
	Published int
	Skipped   int
}

// Seed loads products and their specs from YAML. Products are upserted; specs
// are only created for products that have none yet, so re-running is safe.
func (s *Service) Seed(ctx context.Context, r io.Reader) (SeedReport, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return SeedReport{}, fmt.Errorf("decode seed file: %w", err)
	}

	var rep SeedReport
	for _, sp := range f.Products {
		p := sp.Product
		if err := s.SaveProduct(ctx, &p); err != nil {
			return rep, fmt.Errorf("product %s: %w", sp.ID, err)
		}
		rep.Products++

		existing, err := s.repo.ListSpecs(ctx, p.ID)
		if err != nil {
			return rep, fmt.Errorf("product %s: list specs: %w", p.ID, err)
		}
		if len(existing) > 0 {
			rep.Skipped += len(sp.Specs)
			continue
		}

		for i, ss := range sp.Specs {
			published, err := s.seedSpec(ctx, p.ID, ss)
			if err != nil {
				return rep, fmt.Errorf("product %s spec #%d: %w", p.ID, i+1, err)
			}
			rep.Specs++
			if published {
				rep.Published++
			}
		}
	}
	s.log.Info("catalog seeded", "products", rep.Products, "specs", rep.Specs, "published", rep.Published)
	return rep, nil
}

func (s *Service) seedSpec(ctx context.Context, productID string, ss seedSpec) (bool, error) {
	draft, err := s.CreateDraft(ctx, productID)
	if err != nil {
		return false, err
	}
	patch := catalog.SpecPatch{
		FrontFileURL: ss.FrontFileURL,
		BackFileURL:  ss.BackFileURL,
		DPI:          ss.DPI,
		Colors:       ss.Colors,
		PriceCents:   ss.PriceCents,
	}
	if _, err := s.UpdateSpec(ctx, draft.ID, patch); err != nil {
		return false, err
	}
	if len(ss.Variants) > 0 {
		if _, err := s.ReplaceVariants(ctx, draft.ID, ss.Variants); err != nil {
			return false, err
		}
	}
	if !ss.Publish {
		return false, nil
	}
	if _, err := s.Publish(ctx, draft.ID); err != nil {
		return false, err
	}
	return true, nil
}
