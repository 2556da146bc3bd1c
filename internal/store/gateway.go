// Package store is the role-scoped gateway to the relational store.
//
// Every operation resolves the caller's role to a policy (credentials,
// read view, decrypt flag, delete privilege) before touching the database.
// Connections are per role: each role owns its own pool opened under its
// own credentials, so the database's grants are the ultimate arbiter of
// what a role can see. Batch writes are a single transaction, committed
// only after every row inserts successfully.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyptra/etlvault/internal/cipher"
	"github.com/calyptra/etlvault/internal/codec"
	"github.com/calyptra/etlvault/internal/schema"
)

// DefaultReadLimit caps reads when the caller does not supply a limit.
const DefaultReadLimit = 5

var (
	// ErrConnection covers credential and connectivity failures when
	// opening or using a role's connection.
	ErrConnection = errors.New("store connection failed")

	// ErrDuplicateKey indicates a primary-key collision on insert; the
	// whole batch transaction is rolled back.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDeleteNotPermitted is returned when a role without delete
	// privilege calls DeleteAll.
	ErrDeleteNotPermitted = errors.New("role may not delete")
)

// Credentials are one role's database login.
type Credentials struct {
	User     string
	Password string
}

// Config holds the connection parameters shared by all roles plus the
// per-role credential sets. It is immutable after process start.
type Config struct {
	Host        string
	Port        int
	Database    string
	SSLMode     string
	MaxConns    int32
	Credentials map[Role]Credentials
}

// DB is the subset of pgxpool.Pool the gateway uses.
// Narrowing to an interface keeps the gateway testable without a server.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Row is one stored record keyed by column name. Values are plaintext when
// the role's policy decrypts (or reads the masked view), ciphertext never.
type Row map[string]string

const insertSQL = `INSERT INTO users (id, first_name, last_name, email, gender, ip_address) VALUES ($1, $2, $3, $4, $5, $6)`

// Gateway resolves roles to connections and mediates every read, write and
// delete against the person-record table.
type Gateway struct {
	cfg    Config
	cipher *cipher.Cipher

	mu    sync.Mutex
	pools map[Role]DB

	// open is swapped out in tests.
	open func(ctx context.Context, connString string) (DB, error)
}

// NewGateway creates a gateway. Pools are opened lazily, per role, on
// first use; the cipher is used only on the read path (write batches
// arrive pre-encrypted).
func NewGateway(cfg Config, c *cipher.Cipher) *Gateway {
	return &Gateway{
		cfg:    cfg,
		cipher: c,
		pools:  make(map[Role]DB),
		open:   openPool,
	}
}

func openPool(ctx context.Context, connString string) (DB, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// connString builds the connection URL for one role's credentials.
func (g *Gateway) connString(creds Credentials) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   g.cfg.Host + ":" + strconv.Itoa(g.cfg.Port),
		Path:   "/" + g.cfg.Database,
	}
	q := url.Values{}
	if g.cfg.SSLMode != "" {
		q.Set("sslmode", g.cfg.SSLMode)
	}
	if g.cfg.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(int(g.cfg.MaxConns)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// pool returns the cached pool for a role, opening and pinging it on first
// use so bad credentials surface immediately rather than mid-transaction.
func (g *Gateway) pool(ctx context.Context, role Role) (DB, Policy, error) {
	policy, err := PolicyFor(role)
	if err != nil {
		return nil, Policy{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if db, ok := g.pools[role]; ok {
		return db, policy, nil
	}

	creds, ok := g.cfg.Credentials[role]
	if !ok {
		return nil, Policy{}, fmt.Errorf("%w: no credentials configured for %q", ErrConnection, role)
	}

	db, err := g.open(ctx, g.connString(creds))
	if err != nil {
		return nil, Policy{}, fmt.Errorf("%w: open pool for %q: %v", ErrConnection, role, err)
	}
	if err := db.Ping(ctx); err != nil {
		return nil, Policy{}, fmt.Errorf("%w: ping as %q: %v", ErrConnection, role, err)
	}

	g.pools[role] = db
	return db, policy, nil
}

// Ping verifies connectivity under a role's credentials.
func (g *Gateway) Ping(ctx context.Context, role Role) error {
	db, _, err := g.pool(ctx, role)
	if err != nil {
		return err
	}
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Write inserts an accepted batch under the role's credentials in a single
// transaction. Field values other than id must already be encrypted.
// Any insert failure, including an id collision, rolls back the entire
// batch; no partial commit is possible. Returns the number of rows written.
func (g *Gateway) Write(ctx context.Context, role Role, batch *codec.Batch) (int, error) {
	if len(batch.Rows) == 0 {
		return 0, nil
	}

	db, _, err := g.pool(ctx, role)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrConnection, err)
	}
	defer tx.Rollback(ctx)

	idx := batch.ColumnIndex()
	for _, row := range batch.Rows {
		args := make([]any, len(schema.Columns))
		for i, col := range schema.Columns {
			args[i] = row[idx[col]]
		}

		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return 0, fmt.Errorf("%w: id %q", ErrDuplicateKey, row[idx["id"]])
			}
			return 0, fmt.Errorf("insert row id %q: %w", row[idx["id"]], err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrConnection, err)
	}

	return len(batch.Rows), nil
}

// Read selects up to limit rows from the role's view. For roles whose
// policy decrypts, every non-id field is opened with the process cipher;
// a single decryption failure aborts the whole read so a caller never sees
// a mix of plaintext and ciphertext. Masked-view roles get values exactly
// as the view returns them.
func (g *Gateway) Read(ctx context.Context, role Role, limit int) ([]Row, error) {
	db, policy, err := g.pool(ctx, role)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultReadLimit
	}

	query := fmt.Sprintf(
		"SELECT id, first_name, last_name, email, gender, ip_address FROM %s ORDER BY id LIMIT $1",
		policy.View,
	)

	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrConnection, policy.View, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values := make([]string, len(schema.Columns))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		record := make(Row, len(schema.Columns))
		for i, col := range schema.Columns {
			val := values[i]
			if policy.DecryptOnRead && col != "id" {
				val, err = g.cipher.Decrypt(val)
				if err != nil {
					return nil, fmt.Errorf("decrypt %s: %w", col, err)
				}
			}
			record[col] = val
		}
		out = append(out, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrConnection, err)
	}

	return out, nil
}

// DeleteAll removes every row from the unrestricted table. Only roles with
// delete privilege may call it; deleting from an already-empty table is
// not an error.
func (g *Gateway) DeleteAll(ctx context.Context, role Role) error {
	policy, err := PolicyFor(role)
	if err != nil {
		return err
	}
	if !policy.CanDelete {
		return fmt.Errorf("%w: %q", ErrDeleteNotPermitted, role)
	}

	db, _, err := g.pool(ctx, role)
	if err != nil {
		return err
	}

	if _, err := db.Exec(ctx, "DELETE FROM users"); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrConnection, err)
	}
	return nil
}

// Close releases every pool the gateway opened.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for role, db := range g.pools {
		if closer, ok := db.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(g.pools, role)
	}
}
