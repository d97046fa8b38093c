package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/models"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/shopspring/decimal"
)

// Journal lifecycle regression harness.
//
// Covers the posting state machine end to end against a real database:
// post, unpost, edit-while-posted, delete-while-posted, and the failure
// modes that must leave the ETB untouched.
//
// Usage: INTEGRATION_TESTS=1 go test ./models -run JournalLifecycle -v
// (requires DB_USER/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME pointing at MySQL)

func TestJournalLifecycle_PostEditUnpostDelete(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetActorInContext(ctx, utils.Actor{Id: "tester", Name: "Test"})

	engagementId := fmt.Sprintf("ENG-%d", time.Now().UnixNano())

	etb, err := models.ImportETB(ctx, &models.NewExtendedTrialBalance{
		EngagementId: engagementId,
		Name:         "FY2026 ETB",
		Rows: []models.NewETBRow{
			{
				RowId: "1", Code: "1000", AccountName: "Cash and bank",
				CurrentYear:    decimal.NewFromInt(1000),
				Classification: "Assets > Current assets > Cash and bank",
			},
			{
				RowId: "2", Code: "4000", AccountName: "Revenue",
				CurrentYear:    decimal.NewFromInt(-1000),
				Classification: "Equity > Current Year Profits & Losses > Revenue",
			},
		},
	})
	if err != nil {
		t.Fatalf("ImportETB: %v", err)
	}
	if etb.Version != 1 {
		t.Fatalf("fresh etb version = %d, want 1", etb.Version)
	}

	rowBalance := func(rowId string) (adjustments, finalBalance decimal.Decimal, refs models.RefList) {
		t.Helper()
		fresh, err := models.GetETBByEngagement(ctx, engagementId)
		if err != nil {
			t.Fatalf("GetETBByEngagement: %v", err)
		}
		for _, r := range fresh.Rows {
			if r.RowId == rowId {
				return r.Adjustments, r.FinalBalance, r.AdjustmentRefs
			}
		}
		t.Fatalf("row %s not found", rowId)
		return decimal.Zero, decimal.Zero, nil
	}

	// --- create and post a balanced adjustment ---

	journal, err := models.CreateJournal(ctx, &models.NewJournal{
		EngagementId: engagementId,
		EtbId:        etb.ID,
		JournalType:  "adjustment",
		Description:  "Unrecorded cash sale",
		Entries: []models.NewJournalEntry{
			{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(50)},
			{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJournal: %v", err)
	}
	if journal.Status != models.JournalStatusDraft {
		t.Fatalf("new journal status = %s, want draft", journal.Status)
	}
	if !strings.HasPrefix(journal.JournalNo, "AA") {
		t.Fatalf("journal no %q missing adjustment prefix", journal.JournalNo)
	}

	posted, summary, err := models.PostJournal(ctx, engagementId, journal.ID, nil)
	if err != nil {
		t.Fatalf("PostJournal: %v", err)
	}
	if posted.Status != models.JournalStatusPosted {
		t.Fatalf("status after post = %s", posted.Status)
	}
	if summary.UpdatedRows != 2 {
		t.Fatalf("summary.UpdatedRows = %d, want 2", summary.UpdatedRows)
	}
	adjustments, finalBalance, refs := rowBalance("1")
	if !adjustments.Equal(decimal.NewFromInt(50)) || !finalBalance.Equal(decimal.NewFromInt(1050)) {
		t.Fatalf("cash row after post: adjustments=%s final=%s, want 50/1050", adjustments, finalBalance)
	}
	if !refs.Has(journal.ID) {
		t.Fatalf("cash row refs %v missing journal %d", refs, journal.ID)
	}

	// posting again from posted state must conflict
	if _, _, err := models.PostJournal(ctx, engagementId, journal.ID, nil); err == nil {
		t.Fatal("double post must be rejected")
	} else {
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("double post error = %T, want ConflictError", err)
		}
	}

	// --- stale optimistic version is rejected before any mutation ---

	stale := 1 // post bumped the etb past this
	if _, _, err := models.UnpostJournal(ctx, engagementId, journal.ID, &stale); err == nil {
		t.Fatal("stale version must be rejected")
	} else {
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("stale version error = %T, want ConflictError", err)
		}
	}

	// --- unbalanced journal never reaches the rows ---

	unbalanced, err := models.CreateJournal(ctx, &models.NewJournal{
		EngagementId: engagementId,
		EtbId:        etb.ID,
		JournalType:  "adjustment",
		Entries: []models.NewJournalEntry{
			{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(50)},
			{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(40)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJournal(unbalanced): %v", err)
	}
	if _, _, err := models.PostJournal(ctx, engagementId, unbalanced.ID, nil); err == nil {
		t.Fatal("unbalanced journal must not post")
	} else {
		var ub *models.UnbalancedJournalError
		if !errors.As(err, &ub) {
			t.Fatalf("unbalanced post error = %T, want UnbalancedJournalError", err)
		}
	}
	got, err := models.GetJournal(ctx, engagementId, unbalanced.ID)
	if err != nil {
		t.Fatalf("GetJournal: %v", err)
	}
	if got.Status != models.JournalStatusDraft {
		t.Fatalf("unbalanced journal status = %s, want draft", got.Status)
	}
	if adjustments, _, _ := rowBalance("1"); !adjustments.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("failed post leaked into rows: adjustments=%s", adjustments)
	}

	// --- entry pointing at a missing row aborts the whole post ---

	orphan, err := models.CreateJournal(ctx, &models.NewJournal{
		EngagementId: engagementId,
		EtbId:        etb.ID,
		JournalType:  "adjustment",
		Entries: []models.NewJournalEntry{
			{EtbRowId: "99", Code: "9999", Dr: decimal.NewFromInt(10)},
			{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJournal(orphan): %v", err)
	}
	if _, _, err := models.PostJournal(ctx, engagementId, orphan.ID, nil); err == nil {
		t.Fatal("post against a missing row must fail")
	} else {
		var rnf *models.RowNotFoundError
		if !errors.As(err, &rnf) {
			t.Fatalf("missing row error = %T, want RowNotFoundError", err)
		}
	}
	if adjustments, _, _ := rowBalance("2"); !adjustments.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("failed post leaked into revenue row: adjustments=%s", adjustments)
	}

	// --- editing a posted journal must keep it balanced ---

	lopsided := []models.NewJournalEntry{
		{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(30)},
	}
	if _, err := models.UpdateJournal(ctx, engagementId, journal.ID, &models.UpdateJournalInput{
		Entries: &lopsided,
	}); err == nil {
		t.Fatal("unbalanced entry set must be rejected on a posted journal")
	} else {
		var ub *models.UnbalancedJournalError
		if !errors.As(err, &ub) {
			t.Fatalf("unbalanced update error = %T, want UnbalancedJournalError", err)
		}
	}
	if adjustments, finalBalance, _ := rowBalance("1"); !adjustments.Equal(decimal.NewFromInt(50)) || !finalBalance.Equal(decimal.NewFromInt(1050)) {
		t.Fatalf("rejected update leaked into rows: adjustments=%s final=%s", adjustments, finalBalance)
	}

	// --- editing a posted journal swaps its ETB impact atomically ---

	newEntries := []models.NewJournalEntry{
		{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(30)},
		{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(30)},
	}
	if _, err := models.UpdateJournal(ctx, engagementId, journal.ID, &models.UpdateJournalInput{
		Entries: &newEntries,
	}); err != nil {
		t.Fatalf("UpdateJournal: %v", err)
	}
	adjustments, finalBalance, _ = rowBalance("1")
	if !adjustments.Equal(decimal.NewFromInt(30)) || !finalBalance.Equal(decimal.NewFromInt(1030)) {
		t.Fatalf("cash row after edit: adjustments=%s final=%s, want 30/1030", adjustments, finalBalance)
	}

	// --- unpost restores the imported balances and drops the refs ---

	unposted, _, err := models.UnpostJournal(ctx, engagementId, journal.ID, nil)
	if err != nil {
		t.Fatalf("UnpostJournal: %v", err)
	}
	if unposted.Status != models.JournalStatusDraft {
		t.Fatalf("status after unpost = %s", unposted.Status)
	}
	adjustments, finalBalance, refs = rowBalance("1")
	if !adjustments.IsZero() || !finalBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("cash row after unpost: adjustments=%s final=%s, want 0/1000", adjustments, finalBalance)
	}
	if refs.Has(journal.ID) {
		t.Fatalf("cash row refs %v still reference journal %d", refs, journal.ID)
	}

	// --- deleting a posted journal reverses it first ---

	if _, _, err := models.PostJournal(ctx, engagementId, journal.ID, nil); err != nil {
		t.Fatalf("re-post: %v", err)
	}
	if _, err := models.DeleteJournal(ctx, engagementId, journal.ID); err != nil {
		t.Fatalf("DeleteJournal: %v", err)
	}
	if _, err := models.GetJournal(ctx, engagementId, journal.ID); err == nil {
		t.Fatal("deleted journal still readable")
	}
	if adjustments, finalBalance, _ := rowBalance("1"); !adjustments.IsZero() || !finalBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("cash row after delete: adjustments=%s final=%s, want 0/1000", adjustments, finalBalance)
	}

	// --- every lifecycle step left an audit trail ---

	history, err := models.GetJournalHistory(ctx, engagementId, journal.ID)
	if err != nil {
		t.Fatalf("GetJournalHistory: %v", err)
	}
	seen := map[models.HistoryAction]bool{}
	for _, h := range history {
		seen[h.Action] = true
	}
	for _, want := range []models.HistoryAction{
		models.HistoryActionCreated,
		models.HistoryActionPosted,
		models.HistoryActionUpdated,
		models.HistoryActionUnposted,
		models.HistoryActionDeleted,
	} {
		if !seen[want] {
			t.Errorf("history missing %q action", want)
		}
	}

	// --- reimport is blocked while any journal remains posted ---

	if _, _, err := models.PostJournal(ctx, engagementId, unbalanced.ID, nil); err == nil {
		t.Fatal("unbalanced journal posted unexpectedly")
	}
	balanced := []models.NewJournalEntry{
		{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(40)},
		{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(40)},
	}
	if _, err := models.UpdateJournal(ctx, engagementId, unbalanced.ID, &models.UpdateJournalInput{
		Entries: &balanced,
	}); err != nil {
		t.Fatalf("UpdateJournal(fix): %v", err)
	}
	if _, _, err := models.PostJournal(ctx, engagementId, unbalanced.ID, nil); err != nil {
		t.Fatalf("post fixed journal: %v", err)
	}
	if _, err := models.ImportETB(ctx, &models.NewExtendedTrialBalance{
		EngagementId: engagementId,
		Rows: []models.NewETBRow{
			{RowId: "1", Code: "1000", Classification: "Assets > Current assets > Cash and bank"},
		},
	}); err == nil {
		t.Fatal("reimport with posted journals must be rejected")
	} else {
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("reimport error = %T, want ConflictError", err)
		}
	}
}

func TestJournalLifecycle_ConcurrentPostAppliesOnce(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetActorInContext(ctx, utils.Actor{Id: "tester", Name: "Test"})

	engagementId := fmt.Sprintf("ENG-RACE-%d", time.Now().UnixNano())

	etb, err := models.ImportETB(ctx, &models.NewExtendedTrialBalance{
		EngagementId: engagementId,
		Rows: []models.NewETBRow{
			{
				RowId: "1", Code: "1000",
				CurrentYear:    decimal.NewFromInt(1000),
				Classification: "Assets > Current assets > Cash and bank",
			},
			{
				RowId: "2", Code: "4000",
				CurrentYear:    decimal.NewFromInt(-1000),
				Classification: "Equity > Current Year Profits & Losses > Revenue",
			},
		},
	})
	if err != nil {
		t.Fatalf("ImportETB: %v", err)
	}

	journal, err := models.CreateJournal(ctx, &models.NewJournal{
		EngagementId: engagementId,
		EtbId:        etb.ID,
		JournalType:  "adjustment",
		Entries: []models.NewJournalEntry{
			{EtbRowId: "1", Code: "1000", Dr: decimal.NewFromInt(50)},
			{EtbRowId: "2", Code: "4000", Cr: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJournal: %v", err)
	}

	// Both callers observe draft before either commits; the locked re-check
	// inside the transaction must let exactly one through.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := models.PostJournal(ctx, engagementId, journal.ID, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("unexpected post error: %v", err)
		}
		conflicts++
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly 1 of each", successes, conflicts)
	}

	fresh, err := models.GetETBByEngagement(ctx, engagementId)
	if err != nil {
		t.Fatalf("GetETBByEngagement: %v", err)
	}
	for _, r := range fresh.Rows {
		if r.RowId != "1" {
			continue
		}
		if !r.Adjustments.Equal(decimal.NewFromInt(50)) || !r.FinalBalance.Equal(decimal.NewFromInt(1050)) {
			t.Fatalf("deltas applied more than once: adjustments=%s final=%s", r.Adjustments, r.FinalBalance)
		}
	}
}
