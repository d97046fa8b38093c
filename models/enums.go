package models

import (
	"errors"
	"strings"
)

type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "draft"
	JournalStatusPosted JournalStatus = "posted"
)

type JournalType string

const (
	JournalTypeAdjustment       JournalType = "adjustment"
	JournalTypeReclassification JournalType = "reclassification"
)

// JournalNoPrefix returns the number-series prefix for a journal type
// ("AA1", "RC1", ...).
func (t JournalType) JournalNoPrefix() string {
	if t == JournalTypeReclassification {
		return "RC"
	}
	return "AA"
}

func ParseJournalType(s string) (JournalType, error) {
	switch JournalType(strings.ToLower(strings.TrimSpace(s))) {
	case JournalTypeAdjustment:
		return JournalTypeAdjustment, nil
	case JournalTypeReclassification:
		return JournalTypeReclassification, nil
	}
	return "", errors.New("invalid journal type")
}

type HistoryAction string

const (
	HistoryActionCreated  HistoryAction = "created"
	HistoryActionUpdated  HistoryAction = "updated"
	HistoryActionPosted   HistoryAction = "posted"
	HistoryActionUnposted HistoryAction = "unposted"
	HistoryActionDeleted  HistoryAction = "deleted"
)

type ReviewEventAction string

const (
	ReviewEventActionPosted   ReviewEventAction = "posted"
	ReviewEventActionUnposted ReviewEventAction = "unposted"
	ReviewEventActionUpdated  ReviewEventAction = "updated"
	ReviewEventActionDeleted  ReviewEventAction = "deleted"
)

// Grouping1 is the top level of the 3-segment classification path.
// Income-statement rows live under Equity > "Current Year Profits & Losses",
// so the top level only ever names the three balance-sheet families.
type Grouping1 string

const (
	Grouping1Assets      Grouping1 = "Assets"
	Grouping1Liabilities Grouping1 = "Liabilities"
	Grouping1Equity      Grouping1 = "Equity"
)

// IsCreditFamily reports whether the family carries natural credit polarity.
// Such rows are sign-flipped so every value reads as a contribution to equity.
func (g Grouping1) IsCreditFamily() bool {
	return g == Grouping1Equity || g == Grouping1Liabilities
}

func ParseGrouping1(s string) (Grouping1, error) {
	switch Grouping1(strings.TrimSpace(s)) {
	case Grouping1Assets:
		return Grouping1Assets, nil
	case Grouping1Liabilities:
		return Grouping1Liabilities, nil
	case Grouping1Equity:
		return Grouping1Equity, nil
	}
	return "", errors.New("invalid grouping1 segment")
}

// Well-known classification captions the derivation engine keys on.
const (
	ClassificationDelimiter = ">"

	GroupingEquityReserves = "Equity"
	GroupingCurrentYearPL  = "Current Year Profits & Losses"
	GroupRetainedEarnings  = "Retained earnings"
)
