package catalog

import (
	"strings"
	"time"
)

type Product struct {
	ID            string  `db:"id" json:"id" yaml:"id"`
	Name          string  `db:"name" json:"name" yaml:"name"`
	Slug          string  `db:"slug" json:"slug" yaml:"slug"`
	PriceCents    int64   `db:"price_cents" json:"priceCents" yaml:"priceCents"`
	CurrentSpecID *string `db:"current_spec_id" json:"currentSpecId,omitempty" yaml:"-"`
}

// UnitPrice is the price charged for one unit printed with spec.
func (p Product) UnitPrice(spec *PrintSpec) int64 {
	if spec != nil && spec.PriceCents != nil {
		return *spec.PriceCents
	}
	return p.PriceCents
}

type PrintSpec struct {
	ID           string    `db:"id" json:"id"`
	ProductID    string    `db:"product_id" json:"productId"`
	Version      int       `db:"version" json:"version"`
	FrontFileURL *string   `db:"front_file_url" json:"frontFileUrl,omitempty"`
	BackFileURL  *string   `db:"back_file_url" json:"backFileUrl,omitempty"`
	DPI          int       `db:"dpi" json:"dpi"`
	Colors       []string  `db:"colors" json:"colors"`
	PriceCents   *int64    `db:"price_cents" json:"priceCents,omitempty"`
	IsPublished  bool      `db:"is_published" json:"isPublished"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	Variants     []Variant `json:"variants"`
}

// HasArtwork reports whether at least one print side has a file.
func (s PrintSpec) HasArtwork() bool {
	return (s.FrontFileURL != nil && *s.FrontFileURL != "") ||
		(s.BackFileURL != nil && *s.BackFileURL != "")
}

// FindVariant matches size and color after trimming and case folding.
func (s PrintSpec) FindVariant(size, color string) (Variant, bool) {
	wantSize, wantColor := normalize(size), normalize(color)
	for _, v := range s.Variants {
		if normalize(v.Size) == wantSize && normalize(v.Color) == wantColor {
			return v, true
		}
	}
	return Variant{}, false
}

// Combos lists the available size/color pairs as "SIZE/Color".
func (s PrintSpec) Combos() []string {
	out := make([]string, 0, len(s.Variants))
	for _, v := range s.Variants {
		out = append(out, v.Size+"/"+v.Color)
	}
	return out
}

func normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

type Variant struct {
	ID         string `db:"id" json:"id"`
	SpecID     string `db:"spec_id" json:"-"`
	Size       string `db:"size" json:"size" yaml:"size"`
	Color      string `db:"color" json:"color" yaml:"color"`
	ProductUID string `db:"product_uid" json:"productUid" yaml:"productUid"`
}

// SpecPatch holds the editable fields of a draft spec. Nil means unchanged.
type SpecPatch struct {
	FrontFileURL *string  `json:"frontFileUrl"`
	BackFileURL  *string  `json:"backFileUrl"`
	DPI          *int     `json:"dpi"`
	Colors       []string `json:"colors"`
	PriceCents   *int64   `json:"priceCents"`
}
