package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
)

var transactionHeader = []string{
	"id", "provider", "status", "amount", "currency",
	"customer_id", "country", "phone", "created_at", "updated_at", "failure_reason",
}

func writeTransactionsCSV(path string, txs []payments.Transaction) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(transactionHeader); err != nil {
		return err
	}
	for _, tx := range txs {
		record := []string{
			tx.ID,
			tx.Provider,
			string(tx.Status),
			tx.Amount.Value.String(),
			tx.Amount.Currency,
			tx.Customer.ID,
			tx.Customer.Country,
			tx.Customer.Phone,
			tx.CreatedAt.UTC().Format(time.RFC3339Nano),
			tx.UpdatedAt.UTC().Format(time.RFC3339Nano),
			tx.FailureReason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func readTransactionsCSV(path string) ([]payments.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return decodeTransactionsCSV(file)
}

// decodeTransactionsCSV reads rows by header name, so column order is free.
func decodeTransactionsCSV(r io.Reader) ([]payments.Transaction, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, required := range []string{"id", "status", "amount", "created_at"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv is missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	out := make([]payments.Transaction, 0)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		status, ok := payments.ParseStatus(field(rec, "status"))
		if !ok {
			return nil, fmt.Errorf("line %d: unknown status %q", line, field(rec, "status"))
		}
		amount, err := decimal.NewFromString(field(rec, "amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: parse amount: %w", line, err)
		}
		created, err := time.Parse(time.RFC3339Nano, field(rec, "created_at"))
		if err != nil {
			return nil, fmt.Errorf("line %d: parse created_at: %w", line, err)
		}
		updated := created
		if v := field(rec, "updated_at"); v != "" {
			if updated, err = time.Parse(time.RFC3339Nano, v); err != nil {
				return nil, fmt.Errorf("line %d: parse updated_at: %w", line, err)
			}
		}

		out = append(out, payments.Transaction{
			ID:       field(rec, "id"),
			Provider: field(rec, "provider"),
			Status:   status,
			Amount:   payments.Amount{Value: amount, Currency: field(rec, "currency")},
			Customer: payments.Customer{
				ID:      field(rec, "customer_id"),
				Country: payments.NormalizeCountry(field(rec, "country")),
				Phone:   field(rec, "phone"),
			},
			CreatedAt:     created.UTC(),
			UpdatedAt:     updated.UTC(),
			FailureReason: field(rec, "failure_reason"),
		})
	}
	return out, nil
}
