package rates

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Upserter writes rates into the store.
type Upserter interface {
	Upsert(ctx context.Context, in UpsertInput) (ExchangeRate, error)
}

// ImportSummary reports the outcome of a bulk import.
type ImportSummary struct {
	Imported int
	Skipped  []ImportRowError
}

// ImportRowError describes a row that could not be imported.
type ImportRowError struct {
	Line int
	Err  error
}

// Importer loads rates from CSV rows of the form
// from,to,date,type,rate[,source[,official]].
type Importer struct {
	store Upserter
}

// NewImporter constructs an Importer.
func NewImporter(store Upserter) *Importer {
	return &Importer{store: store}
}

// Import parses r and upserts every valid row. Locked or malformed rows are
// reported in the summary without aborting the import.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportSummary, error) {
	var summary ImportSummary
	if im == nil || im.store == nil {
		return summary, errors.New("rates: importer not configured")
	}
	inputs, rowErrs, err := ParseCSV(r)
	if err != nil {
		return summary, err
	}
	summary.Skipped = append(summary.Skipped, rowErrs...)
	for _, row := range inputs {
		if _, err := im.store.Upsert(ctx, row.Input); err != nil {
			summary.Skipped = append(summary.Skipped, ImportRowError{Line: row.Line, Err: err})
			continue
		}
		summary.Imported++
	}
	return summary, nil
}

// ParsedRow pairs a parsed input with its source line.
type ParsedRow struct {
	Line  int
	Input UpsertInput
}

// ParseCSV reads rate rows. A header row starting with "from" is skipped.
func ParseCSV(r io.Reader) ([]ParsedRow, []ImportRowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var (
		out    []ParsedRow
		errs   []ImportRowError
		lineNo int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			return nil, nil, fmt.Errorf("rates: read csv line %d: %w", lineNo, err)
		}
		if len(record) == 0 || strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}
		if lineNo == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "from") {
			continue
		}
		in, err := parseRecord(record)
		if err != nil {
			errs = append(errs, ImportRowError{Line: lineNo, Err: err})
			continue
		}
		out = append(out, ParsedRow{Line: lineNo, Input: in})
	}
	return out, errs, nil
}

func parseRecord(record []string) (UpsertInput, error) {
	if len(record) < 5 {
		return UpsertInput{}, fmt.Errorf("expected at least 5 columns, got %d", len(record))
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(record[2]))
	if err != nil {
		return UpsertInput{}, fmt.Errorf("invalid date %q", record[2])
	}
	rateType, err := ParseRateType(record[3])
	if err != nil {
		return UpsertInput{}, err
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(record[4]))
	if err != nil {
		return UpsertInput{}, fmt.Errorf("invalid rate %q", record[4])
	}
	if !rate.IsPositive() {
		return UpsertInput{}, ErrInvalidRate
	}
	in := UpsertInput{From: record[0], To: record[1], RateDate: date, Type: rateType, Rate: rate, Source: "IMPORT"}
	if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
		in.Source = strings.TrimSpace(record[5])
	}
	if len(record) > 6 && strings.TrimSpace(record[6]) != "" {
		official, err := strconv.ParseBool(strings.TrimSpace(record[6]))
		if err != nil {
			return UpsertInput{}, fmt.Errorf("invalid official flag %q", record[6])
		}
		in.IsOfficial = official
	}
	return in.Normalize(), nil
}
