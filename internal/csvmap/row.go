package csvmap

import (
	"strconv"
	"strings"

	"inventory_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Row is the partial stock record parsed from one CSV line.
type Row struct {
	SKU      string
	Name     string
	Category string
	Weight   decimal.NullDecimal
	Purity   decimal.NullDecimal
	Price    decimal.NullDecimal
	Quantity int64

	// QuantityDefaulted is set when the quantity cell was missing or not
	// a base-10 integer. Such rows import as zero stock.
	QuantityDefaulted bool
}

// ParseRow reads the mapped cells of one record (header -> value).
func ParseRow(record map[string]string, mapping Mapping) Row {
	cell := func(f Field) (string, bool) {
		h, ok := mapping[f]
		if !ok {
			return "", false
		}
		v, ok := record[h]
		return strings.TrimSpace(v), ok
	}

	var r Row
	r.SKU, _ = cell(FieldSKU)
	r.Name, _ = cell(FieldName)
	r.Category, _ = cell(FieldCategory)
	r.Weight = parseDecimal(cell(FieldWeight))
	r.Purity = parseDecimal(cell(FieldPurity))
	r.Price = parseDecimal(cell(FieldPrice))

	raw, ok := cell(FieldQuantity)
	qty, err := strconv.ParseInt(raw, 10, 64)
	if !ok || err != nil {
		qty = 0
		r.QuantityDefaulted = true
	}
	r.Quantity = qty
	return r
}

// Update is the ledger edit for this row. Negative quantities are left
// for the ledger to reject.
func (r Row) Update() domain.StockUpdate {
	return domain.StockUpdate{Quantity: r.Quantity}
}

func parseDecimal(s string, ok bool) decimal.NullDecimal {
	if !ok || s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
