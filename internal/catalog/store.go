package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Product is one inventory record. The JSON form uses the field names of
// the catalog file (nombre, unidades, precio, imagen).
type Product struct {
	ID    string  `csv:"id"`
	Name  string  `csv:"nombre"`
	Units int     `csv:"unidades"`
	Price float64 `csv:"precio"`
	Image string  `csv:"imagen"`

	// Extra holds fields the catalog file carries beyond the ones above.
	// They are written back unchanged.
	Extra map[string]json.RawMessage `csv:"-"`
}

type productJSON struct {
	ID    string  `json:"id"`
	Name  string  `json:"nombre"`
	Units int     `json:"unidades"`
	Price float64 `json:"precio"`
	Image *string `json:"imagen"`
}

func (p Product) MarshalJSON() ([]byte, error) {
	w := productJSON{ID: p.ID, Name: p.Name, Units: p.Units, Price: p.Price}
	if p.Image != "" {
		img := p.Image
		w.Image = &img
	}
	b, err := json.Marshal(w)
	if err != nil || len(p.Extra) == 0 {
		return b, err
	}

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range slices.Sorted(maps.Keys(p.Extra)) {
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(p.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts records written by older versions of the app, which
// stored imported values as given: numbers may be quoted and ids may be
// numeric. A value that cannot be read as a number at all is an error.
func (p *Product) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("null product record")
	}

	known := make(map[string]any, 5)
	for _, k := range []string{fieldID, fieldName, fieldUnits, fieldPrice, fieldImage} {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		delete(fields, k)

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		known[k] = v
	}

	units, err := looseUnits(known[fieldUnits])
	if err != nil {
		return fmt.Errorf("%s: %w", fieldUnits, err)
	}
	price, err := loosePrice(known[fieldPrice])
	if err != nil {
		return fmt.Errorf("%s: %w", fieldPrice, err)
	}

	*p = Product{
		ID:    cast.ToString(known[fieldID]),
		Name:  cast.ToString(known[fieldName]),
		Units: units,
		Price: price,
	}
	if img, ok := known[fieldImage].(string); ok {
		p.Image = img
	}
	if len(fields) > 0 {
		p.Extra = fields
	}
	return nil
}

// ImageUpload is an image file sent along with a product form.
type ImageUpload struct {
	Filename string
	Content  io.Reader
}

// ProductForm holds the raw add/edit input as typed by the user.
type ProductForm struct {
	Name  string
	Units string
	Price string
	Image *ImageUpload
}

// ImportRecord is one loosely-typed product object from an import file.
type ImportRecord map[string]any

// ImportReport counts what a bulk import did with each record.
type ImportReport struct {
	Added      int
	Duplicates int
	Invalid    int
}

type Catalog interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, f Filter) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
	Add(ctx context.Context, form ProductForm) (Product, error)
	Update(ctx context.Context, id string, form ProductForm) (Product, error)
	Delete(ctx context.Context, id string) (bool, error)
	BulkImport(ctx context.Context, records []ImportRecord) (ImportReport, error)
	ExportJSON(ctx context.Context, w io.Writer) error
	ExportCSV(ctx context.Context, w io.Writer) error
	ExportXLSX(ctx context.Context, w io.Writer) error
}

const (
	fieldID    = "id"
	fieldName  = "nombre"
	fieldUnits = "unidades"
	fieldPrice = "precio"
	fieldImage = "imagen"
)

func (f ProductForm) product() (Product, error) {
	p := Product{Name: strings.TrimSpace(f.Name)}

	units, err := strconv.Atoi(strings.TrimSpace(f.Units))
	if err != nil {
		return Product{}, &ValidationError{Field: fieldUnits, Value: f.Units, Message: reasonWholeNumber}
	}
	p.Units = units

	price, err := strconv.ParseFloat(strings.TrimSpace(f.Price), 64)
	if err != nil {
		return Product{}, &ValidationError{Field: fieldPrice, Value: f.Price, Message: reasonNumber}
	}
	p.Price = price

	if err := checkProduct(p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// checkProduct enforces the rules shared by add, edit and import.
func checkProduct(p Product) error {
	if p.Name == "" {
		return &ValidationError{Field: fieldName, Message: reasonRequired}
	}
	if p.Units < 0 {
		return &ValidationError{Field: fieldUnits, Value: strconv.Itoa(p.Units), Message: reasonNegative}
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return &ValidationError{Field: fieldPrice, Value: strconv.FormatFloat(p.Price, 'g', -1, 64), Message: reasonNumber}
	}
	if p.Price < 0 {
		return &ValidationError{Field: fieldPrice, Value: strconv.FormatFloat(p.Price, 'g', -1, 64), Message: reasonNegative}
	}
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func indexByID(products []Product, id string) int {
	for i := range products {
		if products[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByName(products []Product, name string) int {
	key := nameKey(name)
	for i := range products {
		if nameKey(products[i].Name) == key {
			return i
		}
	}
	return -1
}
