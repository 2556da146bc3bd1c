// Package schema enforces the batch-level column gate: an uploaded file is
// only admitted when its column set equals the fixed six expected columns
// exactly. This check runs before any row-level work and rejects the whole
// batch on mismatch, with the computed missing and extra sets reported back
// to the caller.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Columns is the fixed expected column set, in canonical order.
var Columns = []string{"id", "first_name", "last_name", "email", "gender", "ip_address"}

// MismatchError reports how a batch's columns differ from the expected set.
// Missing holds expected-minus-actual, Extra holds actual-minus-expected;
// both are sorted so the report is deterministic. An extra column is as
// fatal as a missing one.
type MismatchError struct {
	Missing []string
	Extra   []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("column mismatch: missing [%s], extra [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Extra, ", "))
}

// Check compares a batch's columns against the expected set.
// Returns nil only on exact set equality. A duplicated header name can
// never form the exact set and therefore also fails.
func Check(columns []string) error {
	expected := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		expected[c] = true
	}

	actual := make(map[string]bool, len(columns))
	var extra []string
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !expected[c] || seen[c] {
			extra = append(extra, c)
		}
		seen[c] = true
		actual[c] = true
	}

	var missing []string
	for _, c := range Columns {
		if !actual[c] {
			missing = append(missing, c)
		}
	}

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(extra)
	return &MismatchError{Missing: missing, Extra: extra}
}
