// Package pipeline composes the ingest stages into the write path and the
// paired role-aware read path.
//
// The write path is a one-directional state machine:
//
//	Received -> SchemaChecked -> RowValidated -> Encrypted -> Committed
//
// terminal on Committed or on the first stage failure. There is no
// automatic retry and no partial-batch resume: a caller resubmits the whole
// file after a failure. Row-level validation failures are the one recovered
// error class - the failing row is dropped and logged, the batch proceeds.
//
// Rows are processed sequentially so the accepted/rejected partition and
// the insert order are deterministic for a given input.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/calyptra/etlvault/internal/cipher"
	"github.com/calyptra/etlvault/internal/codec"
	"github.com/calyptra/etlvault/internal/logging"
	"github.com/calyptra/etlvault/internal/schema"
	"github.com/calyptra/etlvault/internal/store"
	"github.com/calyptra/etlvault/internal/validate"
)

// Stage names the write-path states.
type Stage string

const (
	StageReceived      Stage = "received"
	StageSchemaChecked Stage = "schema_checked"
	StageRowValidated  Stage = "row_validated"
	StageEncrypted     Stage = "encrypted"
	StageCommitted     Stage = "committed"
)

// StageError marks a batch as failed at a specific stage. The wrapped
// error carries the category (schema mismatch, connection, duplicate key)
// for the transport layer to map onto a response.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes a completed ingest.
type Result struct {
	BatchID   string `json:"batch_id"`
	Stage     Stage  `json:"stage"`
	TotalRows int    `json:"total_rows"`
	Inserted  int    `json:"inserted"`
	Rejected  int    `json:"rejected"`
}

// Store is the gateway surface the orchestrator drives.
type Store interface {
	Write(ctx context.Context, role store.Role, batch *codec.Batch) (int, error)
	Read(ctx context.Context, role store.Role, limit int) ([]store.Row, error)
	DeleteAll(ctx context.Context, role store.Role) error
	Ping(ctx context.Context, role store.Role) error
}

// Pipeline owns the extract-validate-encrypt-load composition and the
// read-side select-decrypt-project composition.
type Pipeline struct {
	store     Store
	cipher    *cipher.Cipher
	validator *validate.Validator
}

// New wires the orchestrator. strictIP selects the octet-range IP check;
// off preserves the historical digit-count behavior.
func New(st Store, c *cipher.Cipher, strictIP bool) *Pipeline {
	return &Pipeline{
		store:     st,
		cipher:    c,
		validator: &validate.Validator{StrictIP: strictIP},
	}
}

// Ingest runs one uploaded file through the whole write path.
// Rejected rows are logged with their id and every failing reason; they are
// not part of the response. Any stage failure aborts the batch with nothing
// committed.
func (p *Pipeline) Ingest(ctx context.Context, role store.Role, filename string, data []byte) (*Result, error) {
	batchID := uuid.New().String()
	log := logging.WithFields(ctx, "batch_id", batchID, "file", filename, "role", string(role))

	// Received: parse bytes into the format-agnostic batch.
	batch, err := codec.Parse(filename, data)
	if err != nil {
		return nil, &StageError{Stage: StageReceived, Err: err}
	}

	// SchemaChecked: exact column-set gate before any row is inspected.
	if err := schema.Check(batch.Columns); err != nil {
		return nil, &StageError{Stage: StageSchemaChecked, Err: err}
	}

	// RowValidated: normalize, validate, partition. Row failures are
	// recovered locally; the batch continues with the accepted rows.
	accepted, rejected := p.validator.Partition(batch)
	for _, rej := range rejected {
		log.Warn("row rejected",
			"row_id", rej.ID,
			"line", rej.Line,
			"reasons", strings.Join(rej.Reasons, "; "),
		)
	}

	// Encrypted: every field except the id key is sealed independently.
	if err := p.encryptBatch(accepted); err != nil {
		return nil, &StageError{Stage: StageEncrypted, Err: err}
	}

	// Committed: single transaction under the role's credentials.
	inserted, err := p.store.Write(ctx, role, accepted)
	if err != nil {
		return nil, &StageError{Stage: StageCommitted, Err: err}
	}

	log.Info("batch committed",
		"total_rows", len(batch.Rows),
		"inserted", inserted,
		"rejected", len(rejected),
	)

	return &Result{
		BatchID:   batchID,
		Stage:     StageCommitted,
		TotalRows: len(batch.Rows),
		Inserted:  inserted,
		Rejected:  len(rejected),
	}, nil
}

// encryptBatch seals every non-id field in place. The id stays plaintext
// so it can serve as the storage key for later point lookups.
func (p *Pipeline) encryptBatch(batch *codec.Batch) error {
	idx := batch.ColumnIndex()
	idCol := idx["id"]

	for _, row := range batch.Rows {
		for col, val := range row {
			if col == idCol {
				continue
			}
			token, err := p.cipher.Encrypt(val)
			if err != nil {
				return fmt.Errorf("encrypt field: %w", err)
			}
			row[col] = token
		}
	}
	return nil
}

// Display is the single-shot read path: select under the role's view,
// decrypt when the role's policy requires it, and project the rows back.
func (p *Pipeline) Display(ctx context.Context, role store.Role, limit int) ([]store.Row, error) {
	return p.store.Read(ctx, role, limit)
}

// DeleteAll removes every stored row. It is a single irreversible
// transition with no intermediate state.
func (p *Pipeline) DeleteAll(ctx context.Context, role store.Role) error {
	return p.store.DeleteAll(ctx, role)
}

// Health checks connectivity under the role's credentials.
func (p *Pipeline) Health(ctx context.Context, role store.Role) error {
	return p.store.Ping(ctx, role)
}
