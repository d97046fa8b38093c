package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseClassification(t *testing.T) {
	c, err := ParseClassification("Assets > Current assets > Cash and bank")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Grouping1 != Grouping1Assets || c.Grouping2 != "Current assets" || c.Grouping3 != "Cash and bank" {
		t.Fatalf("unexpected classification: %+v", c)
	}
	if got := c.Path(); got != "Assets > Current assets > Cash and bank" {
		t.Fatalf("Path() = %q", got)
	}

	// segments are trimmed even without the canonical spacing
	c, err = ParseClassification("Equity>Equity>Share capital")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Grouping1 != Grouping1Equity || c.Grouping3 != "Share capital" {
		t.Fatalf("unexpected classification: %+v", c)
	}

	for _, bad := range []string{
		"Assets > Cash",
		"Assets > Current assets > Cash > Extra",
		"Revenue > Sales > Product",
		"Assets >  > Cash",
		"",
	} {
		if _, err := ParseClassification(bad); err == nil {
			t.Errorf("ParseClassification(%q) should fail", bad)
		}
	}
}

func TestGrouping1CreditFamily(t *testing.T) {
	if Grouping1Assets.IsCreditFamily() {
		t.Error("assets must not be a credit family")
	}
	if !Grouping1Liabilities.IsCreditFamily() || !Grouping1Equity.IsCreditFamily() {
		t.Error("liabilities and equity carry credit polarity")
	}
}

func TestParseJournalType(t *testing.T) {
	if jt, err := ParseJournalType(" Adjustment "); err != nil || jt != JournalTypeAdjustment {
		t.Fatalf("got %q, %v", jt, err)
	}
	if jt, err := ParseJournalType("RECLASSIFICATION"); err != nil || jt != JournalTypeReclassification {
		t.Fatalf("got %q, %v", jt, err)
	}
	if _, err := ParseJournalType("accrual"); err == nil {
		t.Fatal("expected error for unknown journal type")
	}
}

func TestNewExtendedTrialBalanceValidate(t *testing.T) {
	valid := func() *NewExtendedTrialBalance {
		return &NewExtendedTrialBalance{
			EngagementId: "ENG1",
			Rows: []NewETBRow{
				{RowId: "r-1", Code: "1000", Classification: "Assets > Current assets > Cash"},
				{RowId: "r-2", Code: "2000", Classification: "Liabilities > Current liabilities > Payables"},
			},
		}
	}

	if err := valid().validate(); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	input := valid()
	input.EngagementId = ""
	if err := input.validate(); err == nil {
		t.Error("missing engagement id must be rejected")
	}

	input = valid()
	input.Rows[1].RowId = ""
	if err := input.validate(); err == nil {
		t.Error("missing row id must be rejected")
	}

	input = valid()
	input.Rows[1].RowId = "r-1"
	if err := input.validate(); err == nil {
		t.Error("duplicate row id must be rejected")
	}

	input = valid()
	input.Rows[0].Classification = "Cash"
	if err := input.validate(); err == nil {
		t.Error("malformed classification must be rejected")
	}
}

func TestReceiveETBRowsInitialState(t *testing.T) {
	input := &NewExtendedTrialBalance{
		EngagementId: "ENG1",
		Rows: []NewETBRow{
			{
				RowId:          "r-1",
				Code:           "1000",
				CurrentYear:    decimal.NewFromFloat(1000.4),
				PriorYear:      decimal.NewFromFloat(899.6),
				Classification: "Assets > Current assets > Cash",
			},
		},
	}

	rows := receiveETBRows(input, 5)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.EtbId != 5 || row.EngagementId != "ENG1" {
		t.Fatalf("wrong parent wiring: %+v", row)
	}
	if !row.CurrentYear.Equal(decimal.NewFromInt(1000)) || !row.PriorYear.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("amounts must round to whole units: %s / %s", row.CurrentYear, row.PriorYear)
	}
	if !row.Adjustments.IsZero() || !row.Reclassification.IsZero() {
		t.Fatalf("accumulators must start at zero: %+v", row)
	}
	if !row.FinalBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("finalBalance = %s, want 1000", row.FinalBalance)
	}
	if row.AdjustmentRefs == nil || row.ReclassificationRefs == nil {
		t.Fatal("ref sets must initialize empty, not nil")
	}
}

func TestRefListColumnRoundTrip(t *testing.T) {
	refs := RefList{3, 7}
	v, err := refs.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v.(string) != "[3,7]" {
		t.Fatalf("Value() = %q", v)
	}

	var scanned RefList
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scanned) != 2 || !scanned.Has(3) || !scanned.Has(7) {
		t.Fatalf("scanned = %v", scanned)
	}

	// legacy rows may hold NULL or empty text
	var empty RefList
	if err := empty.Scan(nil); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("Scan(nil) = %v, %v", empty, err)
	}
	if err := empty.Scan(""); err != nil || len(empty) != 0 {
		t.Fatalf("Scan(\"\") = %v, %v", empty, err)
	}
}
