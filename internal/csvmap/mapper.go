// Package csvmap maps seller spreadsheet headers onto canonical stock fields
// and imports the resulting rows into the stock ledger.
package csvmap

import (
	"fmt"
	"strings"

	"inventory_go/internal/domain"
	"inventory_go/internal/infra"
)

// Field is a canonical stock column.
type Field string

const (
	FieldSKU      Field = "sku"
	FieldName     Field = "name"
	FieldWeight   Field = "weight"
	FieldPurity   Field = "purity"
	FieldQuantity Field = "quantity"
	FieldPrice    Field = "price"
	FieldCategory Field = "category"
)

// Rule lists the lowercase alias phrases of one field.
type Rule struct {
	Field   Field
	Aliases []string
}

// Rules is ordered by priority: for a given header the first matching
// field wins.
type Rules []Rule

// Mapping is logical field -> original header.
type Mapping map[Field]string

// DefaultRules is the built-in alias table.
func DefaultRules() Rules {
	return Rules{
		{FieldSKU, []string{"sku", "item code", "product code", "article", "part number", "product id"}},
		{FieldName, []string{"name", "title", "description", "product"}},
		{FieldWeight, []string{"weight", "grams", "gram", "wt"}},
		{FieldPurity, []string{"purity", "fineness", "karat", "carat", "assay"}},
		{FieldQuantity, []string{"quantity", "qty", "stock", "units", "on hand", "inventory"}},
		{FieldPrice, []string{"price", "cost", "amount", "msrp"}},
		{FieldCategory, []string{"category", "type", "collection", "metal"}},
	}
}

// RulesFromConfig overlays configured alias lists on the defaults.
// Fields keep their built-in priority; unknown fields are an error.
func RulesFromConfig(overrides []infra.CSVFieldRule) (Rules, error) {
	rules := DefaultRules()
	for _, o := range overrides {
		idx := -1
		for i := range rules {
			if string(rules[i].Field) == strings.ToLower(strings.TrimSpace(o.Field)) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &domain.ValidationError{Field: "csv.rules", Reason: fmt.Sprintf("unknown field %q", o.Field)}
		}
		aliases := make([]string, 0, len(o.Aliases))
		for _, a := range o.Aliases {
			if a = normalize(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		if len(aliases) == 0 {
			return nil, &domain.ValidationError{Field: "csv.rules", Reason: fmt.Sprintf("field %q has no aliases", o.Field)}
		}
		rules[idx].Aliases = aliases
	}
	return rules, nil
}

// Mapper is stateless apart from its rule table and safe for concurrent use.
type Mapper struct {
	rules Rules
}

func NewMapper(rules Rules) *Mapper {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Mapper{rules: rules}
}

// DetectMapping assigns headers to fields. A header matches a field when
// the normalized header contains one of its aliases or an alias contains
// the header. Fields already claimed by an earlier header are skipped.
// Unmatched fields are absent from the result.
func (m *Mapper) DetectMapping(headers []string) Mapping {
	out := make(Mapping)
	for _, h := range headers {
		norm := normalize(h)
		if norm == "" {
			continue
		}
		for _, rule := range m.rules {
			if _, taken := out[rule.Field]; taken {
				continue
			}
			if matches(norm, rule.Aliases) {
				out[rule.Field] = h
				break
			}
		}
	}
	return out
}

func matches(header string, aliases []string) bool {
	for _, a := range aliases {
		if a == "" {
			continue
		}
		if strings.Contains(header, a) || strings.Contains(a, header) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
