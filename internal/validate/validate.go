// Package validate performs per-row normalization and field validation on
// schema-valid batches.
//
// Each row is processed independently and in order: text fields are trimmed,
// the email is lower-cased, then email, ip_address, first_name and last_name
// are checked against their patterns. A row that fails any check is excluded
// from the accepted batch with every failing reason recorded, never just the
// first. The partition is deterministic: the same input batch always yields
// the same accepted rows and the same rejection reasons.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/calyptra/etlvault/internal/codec"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z]+$`)

	// ipPattern checks digit-count only, so out-of-range octets like
	// 999.999.999.999 pass. The upstream data has always been validated
	// this way; StrictIP tightens it to real octet ranges when enabled.
	ipPattern = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)
)

// Rejection identifies a dropped row and every reason it failed.
type Rejection struct {
	ID      string   // value of the row's id field, may be empty
	Line    int      // 1-based data row number within the batch
	Reasons []string // all failing checks, in field order
}

// Validator partitions batches into accepted and rejected rows.
type Validator struct {
	// StrictIP rejects dotted quads whose octets exceed 255. Off by
	// default to preserve the permissive digit-count behavior.
	StrictIP bool
}

// Partition normalizes and validates every row of a schema-valid batch.
// The returned accepted batch preserves the input column order and the
// relative order of surviving rows. One row's failure never affects
// another's acceptance.
func (v *Validator) Partition(batch *codec.Batch) (*codec.Batch, []Rejection) {
	idx := batch.ColumnIndex()
	idCol := idx["id"]
	emailCol := idx["email"]
	ipCol := idx["ip_address"]
	firstCol := idx["first_name"]
	lastCol := idx["last_name"]

	accepted := &codec.Batch{Columns: batch.Columns}
	var rejected []Rejection

	for i, row := range batch.Rows {
		normalized := make([]string, len(row))
		for j, val := range row {
			normalized[j] = strings.TrimSpace(val)
		}
		normalized[emailCol] = strings.ToLower(normalized[emailCol])

		var reasons []string
		if !emailPattern.MatchString(normalized[emailCol]) {
			reasons = append(reasons, "invalid email format")
		}
		if !v.validIP(normalized[ipCol]) {
			reasons = append(reasons, "invalid IP address format")
		}
		if !namePattern.MatchString(normalized[firstCol]) {
			reasons = append(reasons, "invalid first name format")
		}
		if !namePattern.MatchString(normalized[lastCol]) {
			reasons = append(reasons, "invalid last name format")
		}

		if len(reasons) > 0 {
			rejected = append(rejected, Rejection{
				ID:      normalized[idCol],
				Line:    i + 1,
				Reasons: reasons,
			})
			continue
		}

		accepted.Rows = append(accepted.Rows, normalized)
	}

	return accepted, rejected
}

// validIP applies the dotted-quad shape check and, in strict mode, the
// numeric octet range check on top of it.
func (v *Validator) validIP(s string) bool {
	if !ipPattern.MatchString(s) {
		return false
	}
	if !v.StrictIP {
		return true
	}
	for _, octet := range strings.Split(s, ".") {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}
