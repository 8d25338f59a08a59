// Package source connects to the PostgreSQL warehouse and runs literal query
// text against it, returning fully materialized tables.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eutopia/collabdash/internal/table"
)

// Source store errors.
var (
	// ErrConnection marks a failed network or authentication handshake, or a
	// connection lost while a query was running.
	ErrConnection = errors.New("source store unreachable")

	// ErrQuery marks a statement rejected by the server.
	ErrQuery = errors.New("source query failed")
)

// QueryError is a statement rejected by the server. It matches ErrQuery with
// errors.Is and exposes the SQLSTATE code.
type QueryError struct {
	Code    string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s (SQLSTATE %s): %s", ErrQuery, e.Code, e.Message)
}

// Is reports whether target is ErrQuery.
func (e *QueryError) Is(target error) bool {
	return target == ErrQuery
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Credentials identify the warehouse and the schema every session is pinned to.
type Credentials struct {
	Username string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// DSN renders the credentials as a postgresql:// URL.
func (c Credentials) DSN() string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Options tunes the connection pool.
type Options struct {
	// MaxConns caps the pool size; zero keeps the pgx default.
	MaxConns int32
}

// Store holds one long-lived pool shared by every Execute call.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// Connect opens the pool, pins search_path to the credentials' schema on
// every session, and verifies the handshake. Failures wrap ErrConnection and
// are not retried.
func Connect(ctx context.Context, creds Credentials, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(creds.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: parsing connection config: %w", ErrConnection, err)
	}

	if creds.Schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = creds.Schema
	}
	// Query text is run verbatim with no parameters; skip the prepare round trip.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return &Store{pool: pool, schema: creds.Schema}, nil
}

// Schema returns the schema the store's sessions are pinned to.
func (s *Store) Schema() string {
	return s.schema
}

// Execute runs query and returns every row. Server-side rejections are
// *QueryError; transport failures wrap ErrConnection; context errors are
// returned as is.
func (s *Store) Execute(ctx context.Context, query string) (*table.Table, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	oids := make([]uint32, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
		oids[i] = f.DataTypeOID
	}

	result := table.New(columns...)
	for rows.Next() {
		values, valErr := rows.Values()
		if valErr != nil {
			return nil, classify(valErr)
		}
		for i, v := range values {
			values[i] = normalize(oids[i], v)
		}
		if appendErr := result.Append(values...); appendErr != nil {
			return nil, appendErr
		}
	}
	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}

	return result, nil
}

// Ping checks that the warehouse is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Close releases the pool. Only the process owner should call it.
func (s *Store) Close() {
	s.pool.Close()
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{Code: pgErr.Code, Message: pgErr.Message, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
