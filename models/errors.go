package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError rejects bad input before any mutation happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UnbalancedJournalError is returned when a journal's debits and credits
// differ at post time. Amounts are whole units, so equality is exact.
type UnbalancedJournalError struct {
	JournalNo string
	TotalDr   decimal.Decimal
	TotalCr   decimal.Decimal
}

func (e *UnbalancedJournalError) Error() string {
	return fmt.Sprintf("journal %s is not balanced: total debit %s != total credit %s",
		e.JournalNo, e.TotalDr.String(), e.TotalCr.String())
}

// RowNotFoundError is returned when a journal entry cannot be resolved to an
// ETB row by row id, legacy id, or account code.
type RowNotFoundError struct {
	Code  string
	RowId string
}

func (e *RowNotFoundError) Error() string {
	return fmt.Sprintf("etb row not found (code=%s, rowId=%s)", e.Code, e.RowId)
}

// ConflictError signals an operation attempted from the wrong state:
// posting a non-draft journal, unposting a non-posted one, reimporting an ETB
// with posted journals, or a stale version supplied by the caller.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
