package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Productos"

var xlsxHeader = []any{fieldID, fieldName, fieldUnits, fieldPrice, fieldImage}

func encodeCatalog(w io.Writer, products []Product) error {
	if products == nil {
		products = []Product{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(products)
}

func encodeCSV(w io.Writer, products []Product) error {
	if products == nil {
		products = []Product{}
	}
	return gocsv.Marshal(products, w)
}

// encodeXLSX writes one sheet with a header row and one row per product,
// units and price as numeric cells.
func encodeXLSX(w io.Writer, products []Product) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &xlsxHeader); err != nil {
		return err
	}
	for i, p := range products {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{p.ID, p.Name, p.Units, p.Price, p.Image}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// DecodeImport reads an import file: a JSON array of product-like objects.
func DecodeImport(r io.Reader) ([]ImportRecord, error) {
	dec := json.NewDecoder(r)

	var records []ImportRecord
	if err := dec.Decode(&records); err != nil {
		return nil, &ImportFormatError{Err: err}
	}
	if records == nil {
		return nil, &ImportFormatError{Err: errors.New("null document")}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, &ImportFormatError{Err: errors.New("extra data after json array")}
	}
	return records, nil
}

// productFromRecord coerces an import record into a Product and applies
// the same checks as a form submission. The id is kept as supplied.
func productFromRecord(rec ImportRecord) (Product, error) {
	name, ok := rec[fieldName].(string)
	if !ok {
		return Product{}, &ValidationError{Field: fieldName, Message: reasonRequired}
	}

	p := Product{
		ID:   strings.TrimSpace(cast.ToString(rec[fieldID])),
		Name: strings.TrimSpace(name),
	}

	n, err := looseUnits(rec[fieldUnits])
	if err != nil {
		return Product{}, &ValidationError{Field: fieldUnits, Value: cast.ToString(rec[fieldUnits]), Message: reasonWholeNumber}
	}
	p.Units = n

	price, err := loosePrice(rec[fieldPrice])
	if err != nil {
		return Product{}, &ValidationError{Field: fieldPrice, Value: cast.ToString(rec[fieldPrice]), Message: reasonNumber}
	}
	p.Price = price

	if img, ok := rec[fieldImage].(string); ok && validAssetName(img) {
		p.Image = img
	}

	if err := checkProduct(p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// looseUnits reads a units value that may arrive as a JSON number or a
// decimal string. Strings are always base 10 and booleans are rejected;
// a missing value is zero.
func looseUnits(v any) (int, error) {
	switch x := v.(type) {
	case bool:
		return 0, fmt.Errorf("boolean %t is not a number", x)
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not a whole number", x)
		}
	}
	return cast.ToIntE(v)
}

// loosePrice is looseUnits for prices.
func loosePrice(v any) (float64, error) {
	switch x := v.(type) {
	case bool:
		return 0, fmt.Errorf("boolean %t is not a number", x)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return cast.ToFloat64E(v)
}
