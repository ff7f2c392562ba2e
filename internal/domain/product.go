package domain

import (
	"maps"
	"slices"
)

// BasePrice is the discount price when one is set, otherwise the list price.
func (p Product) BasePrice() int64 {
	if p.DiscountPrice > 0 {
		return p.DiscountPrice
	}
	return p.Price
}

func (p Product) group(name string) (int, bool) {
	for i := range p.Variants {
		if p.Variants[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Option returns the indexes of the variant option addressed by group and value.
func (p Product) Option(group, value string) (gi, oi int, err error) {
	gi, ok := p.group(group)
	if !ok {
		return -1, -1, NotFound("product.option", "variant group", group)
	}
	for i, opt := range p.Variants[gi].Options {
		if opt.Value == value {
			return gi, i, nil
		}
	}
	return -1, -1, NotFound("product.option", "variant option", group+"="+value)
}

// StockAt returns the counter addressed by sel: the variant option's stock, or the
// scalar stock when sel is nil.
func (p Product) StockAt(sel *VariantSelector) (int, error) {
	if sel == nil {
		return p.Stock, nil
	}
	gi, oi, err := p.Option(sel.Group, sel.Value)
	if err != nil {
		return 0, err
	}
	return p.Variants[gi].Options[oi].Stock, nil
}

// WithStockAt returns a copy of p with the addressed counter set to qty.
func (p Product) WithStockAt(sel *VariantSelector, qty int) (Product, error) {
	out := p.Clone()
	if sel == nil {
		out.Stock = qty
		return out, nil
	}
	gi, oi, err := out.Option(sel.Group, sel.Value)
	if err != nil {
		return Product{}, err
	}
	out.Variants[gi].Options[oi].Stock = qty
	return out, nil
}

// PriceAt is the effective price of one unit addressed by sel.
func (p Product) PriceAt(sel *VariantSelector) (int64, error) {
	if sel == nil {
		return p.BasePrice(), nil
	}
	gi, oi, err := p.Option(sel.Group, sel.Value)
	if err != nil {
		return 0, err
	}
	return p.BasePrice() + p.Variants[gi].Options[oi].AdditionalPrice, nil
}

// EffectivePrice resolves the unit price for a cart line's variant selection.
// Selected options add their additional price on top of the base price.
func (p Product) EffectivePrice(sel VariantSelection) (int64, error) {
	price := p.BasePrice()
	if len(sel) == 0 || len(p.Variants) == 0 {
		return price, nil
	}
	for _, group := range sel.groups() {
		gi, oi, err := p.Option(group, sel[group])
		if err != nil {
			return 0, err
		}
		price += p.Variants[gi].Options[oi].AdditionalPrice
	}
	return price, nil
}

// Availability resolves stock for a cart line's variant selection. With several
// groups selected the smallest option stock wins.
func (p Product) Availability(sel VariantSelection) (int, error) {
	if len(sel) == 0 || len(p.Variants) == 0 {
		return p.Stock, nil
	}
	available := -1
	for _, group := range sel.groups() {
		gi, oi, err := p.Option(group, sel[group])
		if err != nil {
			return 0, err
		}
		stock := p.Variants[gi].Options[oi].Stock
		if available < 0 || stock < available {
			available = stock
		}
	}
	return available, nil
}

func (p Product) Clone() Product {
	out := p
	if p.Variants != nil {
		out.Variants = make([]VariantGroup, len(p.Variants))
		for i, g := range p.Variants {
			out.Variants[i] = VariantGroup{Name: g.Name, Options: slices.Clone(g.Options)}
		}
	}
	return out
}

// Equal treats nil and empty selections as the same selection.
func (v VariantSelection) Equal(other VariantSelection) bool {
	if len(v) == 0 && len(other) == 0 {
		return true
	}
	return maps.Equal(v, other)
}

func (v VariantSelection) groups() []string {
	return slices.Sorted(maps.Keys(v))
}

func (v VariantSelection) Clone() VariantSelection {
	if len(v) == 0 {
		return nil
	}
	return maps.Clone(v)
}

// Selection converts a single-axis selector into a line-item selection.
func (v *VariantSelector) Selection() VariantSelection {
	if v == nil {
		return nil
	}
	return VariantSelection{v.Group: v.Value}
}
