// journal-refs-rebuild recomputes ETB row accumulators, journal ref sets and
// final balances from the posted journals on record, for one engagement.
// Use after manual data repairs that may have left rows out of sync.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... go run ./cmd/journal-refs-rebuild --engagement-id ENG123
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/models"
)

func main() {
	engagementID := flag.String("engagement-id", "", "Required: engagement id")
	flag.Parse()

	if strings.TrimSpace(*engagementID) == "" {
		fmt.Fprintln(os.Stderr, "--engagement-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	summary, err := models.RebuildEngagementRefs(context.Background(), strings.TrimSpace(*engagementID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rebuild complete: %d of %d rows carry posted-journal impact\n", summary.UpdatedRows, summary.TotalRows)
}
