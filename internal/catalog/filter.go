package catalog

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names accepted by ParseFilter.
const (
	ParamSearch   = "buscar"
	ParamPriceMin = "precio_min"
	ParamPriceMax = "precio_max"
	ParamUnitsMin = "unidades_min"
	ParamUnitsMax = "unidades_max"
)

// Filter narrows List results. Nil bounds and an empty NameContains do not
// constrain; all bounds are inclusive.
type Filter struct {
	NameContains string
	PriceMin     *float64
	PriceMax     *float64
	UnitsMin     *int
	UnitsMax     *int
}

func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{NameContains: strings.TrimSpace(q.Get(ParamSearch))}

	var err error
	if f.PriceMin, err = parsePriceBound(q, ParamPriceMin); err != nil {
		return Filter{}, err
	}
	if f.PriceMax, err = parsePriceBound(q, ParamPriceMax); err != nil {
		return Filter{}, err
	}
	if f.UnitsMin, err = parseUnitsBound(q, ParamUnitsMin); err != nil {
		return Filter{}, err
	}
	if f.UnitsMax, err = parseUnitsBound(q, ParamUnitsMax); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parsePriceBound(q url.Values, param string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(param))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &InvalidFilterError{Param: param, Value: raw}
	}
	return &v, nil
}

func parseUnitsBound(q url.Values, param string) (*int, error) {
	raw := strings.TrimSpace(q.Get(param))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &InvalidFilterError{Param: param, Value: raw}
	}
	return &v, nil
}

func (f Filter) Match(p Product) bool {
	if f.NameContains != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.PriceMin != nil && p.Price < *f.PriceMin {
		return false
	}
	if f.PriceMax != nil && p.Price > *f.PriceMax {
		return false
	}
	if f.UnitsMin != nil && p.Units < *f.UnitsMin {
		return false
	}
	if f.UnitsMax != nil && p.Units > *f.UnitsMax {
		return false
	}
	return true
}

// Apply returns the matching products in their original order.
func (f Filter) Apply(products []Product) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
