// Package extract turns institution CSV exports into canonical transactions.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/google/uuid"
)

// DefaultMerchantSalt matches the salt historical merchant hashes were produced with.
const DefaultMerchantSalt = "finops_salt"

// Result is the outcome of extracting one source file.
type Result struct {
	BatchID      string
	Institution  string
	CreatedAt    time.Time
	Transactions []domain.CanonicalTransaction

	RowsRead    int
	RowsDropped int // parse failures plus rows skipped as non-events
	Errors      []*RowParseError
}

// Extractor normalizes tabular exports. The zero value is usable.
type Extractor struct {
	MerchantSalt string
	// AccountID is stamped on rows whose source carries no account column.
	AccountID string

	Now        func() time.Time
	NewBatchID func() string
}

// NewExtractor returns an Extractor using the given merchant salt.
func NewExtractor(salt, accountID string) *Extractor {
	return &Extractor{MerchantSalt: salt, AccountID: accountID}
}

// columnIndex resolves each canonical field to the header positions that feed it.
type columnIndex map[string][]int

func buildIndex(header []string, cfg institution.Config) (columnIndex, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}

	idx := make(columnIndex)
	for field, columns := range cfg.Fields {
		for _, col := range columns {
			if pos, ok := positions[strings.ToLower(strings.TrimSpace(col))]; ok {
				idx[field] = append(idx[field], pos)
			}
		}
	}

	var missing []string
	for _, field := range institution.RequiredFields {
		if len(idx[field]) == 0 {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &StructuralError{Institution: cfg.Name, Missing: missing}
	}
	return idx, nil
}

// value returns the first non-empty cell among the field's source columns.
func (idx columnIndex) value(record []string, field string) string {
	for _, pos := range idx[field] {
		if pos < len(record) {
			if v := strings.TrimSpace(record[pos]); v != "" {
				return v
			}
		}
	}
	return ""
}

// Extract reads a CSV export with a header row and normalizes every data row.
// A *StructuralError is returned before any row is processed when the header
// cannot satisfy the required fields. Bad rows are dropped and reported in
// Result.Errors.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, cfg institution.Config) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("institution", cfg.Name).Logger()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &StructuralError{Institution: cfg.Name, Missing: institution.RequiredFields}
	}
	if err != nil {
		return nil, fmt.Errorf("Extract: reading header: %w", err)
	}

	idx, err := buildIndex(header, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		BatchID:     e.batchID(),
		Institution: cfg.Name,
		CreatedAt:   e.now(),
	}
	salt := e.MerchantSalt
	if salt == "" {
		salt = DefaultMerchantSalt
	}

	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		res.RowsRead++

		var perr *csv.ParseError
		if errors.As(err, &perr) {
			res.drop(&RowParseError{Row: row, Field: "record", Reason: perr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("Extract: reading row %d: %w", row, err)
		}

		txn, rowErr, keep := e.normalizeRow(row, record, idx, cfg, salt)
		if rowErr != nil {
			log.Debug().Int("row", row).Str("field", rowErr.Field).Str("reason", rowErr.Reason).Msg("Row dropped")
			res.drop(rowErr)
			continue
		}
		if !keep {
			res.RowsDropped++
			continue
		}
		txn.IngestBatchID = res.BatchID
		txn.CreatedAt = res.CreatedAt
		res.Transactions = append(res.Transactions, txn)
	}

	log.Info().
		Str("batch_id", res.BatchID).
		Int("rows_read", res.RowsRead).
		Int("rows_extracted", len(res.Transactions)).
		Int("rows_dropped", res.RowsDropped).
		Msg("Extraction finished")

	return res, nil
}

func (r *Result) drop(err *RowParseError) {
	r.RowsDropped++
	r.Errors = append(r.Errors, err)
}

// normalizeRow returns keep=false for rows that are not events (blank text, zero amount).
func (e *Extractor) normalizeRow(row int, record []string, idx columnIndex, cfg institution.Config, salt string) (domain.CanonicalTransaction, *RowParseError, bool) {
	rawDate := idx.value(record, institution.FieldPostedAt)
	postedAt, err := ParseDate(rawDate)
	if err != nil {
		return domain.CanonicalTransaction{}, &RowParseError{Row: row, Field: institution.FieldPostedAt, Value: rawDate, Reason: err.Error()}, false
	}

	rawAmount := idx.value(record, institution.FieldAmount)
	amount, err := ParseAmount(rawAmount, cfg.PositiveIsDebit)
	if err != nil {
		return domain.CanonicalTransaction{}, &RowParseError{Row: row, Field: institution.FieldAmount, Value: rawAmount, Reason: err.Error()}, false
	}

	merchant := CleanText(idx.value(record, institution.FieldMerchant))
	description := CleanText(idx.value(record, institution.FieldDescription))
	if merchant == "" || description == "" || amount.IsZero() {
		return domain.CanonicalTransaction{}, nil, false
	}

	accountID := idx.value(record, institution.FieldAccountID)
	if accountID == "" {
		accountID = e.AccountID
	}
	categoryRaw := CleanText(idx.value(record, institution.FieldCategory))

	return domain.CanonicalTransaction{
		Identity:           Identity(cfg.Name, postedAt, amount, merchant, description),
		Institution:        cfg.Name,
		AccountID:          accountID,
		PostedAt:           postedAt,
		Amount:             amount,
		Currency:           NormalizeCurrency(idx.value(record, institution.FieldCurrency)),
		MerchantRaw:        merchant,
		MerchantHash:       MerchantHash(merchant, salt),
		Description:        description,
		CategoryRaw:        categoryRaw,
		CategoryNormalized: NormalizeCategory(categoryRaw),
		Channel:            DetectChannel(description),
	}, nil, true
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Extractor) batchID() string {
	if e.NewBatchID != nil {
		return e.NewBatchID()
	}
	return uuid.NewString()
}
