package config

import (
	"os"
	"strings"
)

// StrictDeleteReversal makes deleting a posted journal abort when one of its
// entries no longer resolves to an ETB row, instead of logging and skipping it.
// The historical behavior is best-effort: the journal is deleted even when some
// rows could not be reversed.
//
// Set via env:
// - STRICT_DELETE_REVERSAL=true
func StrictDeleteReversal() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_DELETE_REVERSAL")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
