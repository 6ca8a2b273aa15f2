package csvmap

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"inventory_go/internal/domain"
)

// ZeroStockWarning is attached to every report that defaulted a quantity.
const ZeroStockWarning = "missing/invalid quantity imports as zero stock"

// Upserter is the ledger write path used by the importer.
type Upserter interface {
	UpsertStock(ctx context.Context, productID, sellerID string, upd domain.StockUpdate) (*domain.StockRecord, error)
}

// RowError points at one rejected line (1-based, header is line 1).
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Report summarises an import.
type Report struct {
	Mapping       Mapping    `json:"mapping"`
	Rows          int        `json:"rows"`
	Imported      int        `json:"imported"`
	ZeroDefaulted int        `json:"zeroDefaulted"`
	Errors        []RowError `json:"errors"`
	Warnings      []string   `json:"warnings"`
}

type Importer struct {
	mapper *Mapper
	ledger Upserter
	logger *slog.Logger
}

func NewImporter(mapper *Mapper, ledger Upserter) *Importer {
	return &Importer{mapper: mapper, ledger: ledger, logger: slog.Default().With("component", "csv_import")}
}

// Import reads a CSV document with a header line and upserts each row as
// stock for sellerID. Row failures are reported, not returned; the error
// result covers unreadable input, a missing sku column, and cancellation.
func (im *Importer) Import(ctx context.Context, r io.Reader, sellerID string) (*Report, error) {
	if sellerID == "" {
		return nil, &domain.ValidationError{Field: "sellerId", Reason: "required"}
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Field: "csv", Reason: "empty document"}
	}
	if err != nil {
		return nil, &domain.ValidationError{Field: "csv", Reason: err.Error()}
	}

	mapping := im.mapper.DetectMapping(headers)
	if _, ok := mapping[FieldSKU]; !ok {
		return nil, &domain.ValidationError{Field: "csv", Reason: "no column maps to sku"}
	}

	rep := &Report{Mapping: mapping, Errors: []RowError{}, Warnings: []string{}}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rep.Errors = append(rep.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		rep.Rows++

		row := ParseRow(zipRecord(headers, rec), mapping)
		if row.SKU == "" {
			rep.Errors = append(rep.Errors, RowError{Line: line, Message: "empty sku"})
			continue
		}
		if row.QuantityDefaulted {
			rep.ZeroDefaulted++
		}
		if _, err := im.ledger.UpsertStock(ctx, row.SKU, sellerID, row.Update()); err != nil {
			rep.Errors = append(rep.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		rep.Imported++
	}

	if rep.ZeroDefaulted > 0 {
		rep.Warnings = append(rep.Warnings, ZeroStockWarning)
	}
	im.logger.Info("📥 CSV import finished",
		slog.String("seller", sellerID),
		slog.Int("rows", rep.Rows),
		slog.Int("imported", rep.Imported),
		slog.Int("zero_defaulted", rep.ZeroDefaulted),
		slog.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

func zipRecord(headers, rec []string) map[string]string {
	out := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(rec) {
			out[h] = rec[i]
		}
	}
	return out
}

// String renders the report for the CLI.
func (r *Report) String() string {
	return fmt.Sprintf("rows=%d imported=%d zero_defaulted=%d errors=%d", r.Rows, r.Imported, r.ZeroDefaulted, len(r.Errors))
}
