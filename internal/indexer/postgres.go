package indexer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// Config holds the Postgres connection parameters for a persistent
// indexer store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns a development-friendly connection configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "veil",
		Password: "",
		Database: "veil_indexer",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// PostgresStore implements Store over PostgreSQL: a `merkle_leaves`
// table backing the `merkle` column family, a `utxos` table backing the
// `utxos` column family, and a `nullifiers` table for the observed
// nullifier set, keyed exactly as §6 describes ("tree{T}-leaf{L}" is the
// logical key; here it's a composite (tree_number, leaf_index) primary
// key instead of a formatted string, since Postgres keys compose
// natively).
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS merkle_leaves (
	tree_number  BIGINT NOT NULL,
	leaf_index   BIGINT NOT NULL,
	commitment   BYTEA NOT NULL,
	PRIMARY KEY (tree_number, leaf_index)
);
CREATE TABLE IF NOT EXISTS utxos (
	tree_number  BIGINT NOT NULL,
	leaf_index   BIGINT NOT NULL,
	payload      BYTEA NOT NULL,
	PRIMARY KEY (tree_number, leaf_index)
);
CREATE TABLE IF NOT EXISTS nullifiers (
	nullifier    BYTEA PRIMARY KEY
);
`

// NewPostgresStore connects to Postgres, bootstraps the schema if
// missing, and returns a ready Store.
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("%w: schema bootstrap: %v", common.ErrTransport, err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertLeaf(tree, index uint64, hash types.Hash) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO merkle_leaves (tree_number, leaf_index, commitment) VALUES ($1, $2, $3)
		 ON CONFLICT (tree_number, leaf_index) DO UPDATE SET commitment = EXCLUDED.commitment`,
		tree, index, hash.Bytes())
	if err != nil {
		return fmt.Errorf("%w: insert leaf: %v", common.ErrTransport, err)
	}
	return nil
}

func (s *PostgresStore) InsertUTXO(tree, index uint64, utxo IndexedUTXO) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO utxos (tree_number, leaf_index, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (tree_number, leaf_index) DO UPDATE SET payload = EXCLUDED.payload`,
		tree, index, EncodeIndexedUTXO(utxo))
	if err != nil {
		return fmt.Errorf("%w: insert utxo: %v", common.ErrTransport, err)
	}
	return nil
}

func (s *PostgresStore) GetLeaf(tree, index uint64) (types.Hash, bool, error) {
	ctx := context.Background()
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment FROM merkle_leaves WHERE tree_number = $1 AND leaf_index = $2`,
		tree, index).Scan(&raw)
	if err == pgx.ErrNoRows {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("%w: get leaf: %v", common.ErrTransport, err)
	}
	return types.HashFromBytes(raw), true, nil
}

func (s *PostgresStore) GetUTXO(tree, index uint64) (IndexedUTXO, bool, error) {
	ctx := context.Background()
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM utxos WHERE tree_number = $1 AND leaf_index = $2`,
		tree, index).Scan(&raw)
	if err == pgx.ErrNoRows {
		return IndexedUTXO{}, false, nil
	}
	if err != nil {
		return IndexedUTXO{}, false, fmt.Errorf("%w: get utxo: %v", common.ErrTransport, err)
	}
	u, err := DecodeIndexedUTXO(raw)
	if err != nil {
		return IndexedUTXO{}, false, err
	}
	return u, true, nil
}

func (s *PostgresStore) IterateTree(tree uint64) (map[uint64]types.Hash, error) {
	return s.IterateTreeRange(tree, 0, ^uint64(0))
}

func (s *PostgresStore) IterateTreeRange(tree uint64, start, end uint64) (map[uint64]types.Hash, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx,
		`SELECT leaf_index, commitment FROM merkle_leaves WHERE tree_number = $1 AND leaf_index BETWEEN $2 AND $3`,
		tree, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: iterate tree: %v", common.ErrTransport, err)
	}
	defer rows.Close()

	out := make(map[uint64]types.Hash)
	for rows.Next() {
		var index uint64
		var raw []byte
		if err := rows.Scan(&index, &raw); err != nil {
			return nil, fmt.Errorf("%w: iterate tree scan: %v", common.ErrTransport, err)
		}
		out[index] = types.HashFromBytes(raw)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AllUTXOs() (map[LeafKey]IndexedUTXO, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT tree_number, leaf_index, payload FROM utxos`)
	if err != nil {
		return nil, fmt.Errorf("%w: all utxos: %v", common.ErrTransport, err)
	}
	defer rows.Close()

	out := make(map[LeafKey]IndexedUTXO)
	for rows.Next() {
		var tree, index uint64
		var raw []byte
		if err := rows.Scan(&tree, &index, &raw); err != nil {
			return nil, fmt.Errorf("%w: all utxos scan: %v", common.ErrTransport, err)
		}
		u, err := DecodeIndexedUTXO(raw)
		if err != nil {
			return nil, err
		}
		out[LeafKey{Tree: tree, Index: index}] = u
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddNullifier(nullifier types.Hash) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nullifiers (nullifier) VALUES ($1) ON CONFLICT (nullifier) DO NOTHING`,
		nullifier.Bytes())
	if err != nil {
		return fmt.Errorf("%w: add nullifier: %v", common.ErrTransport, err)
	}
	return nil
}

func (s *PostgresStore) Nullifiers() (map[types.Hash]bool, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT nullifier FROM nullifiers`)
	if err != nil {
		return nil, fmt.Errorf("%w: nullifiers: %v", common.ErrTransport, err)
	}
	defer rows.Close()

	out := make(map[types.Hash]bool)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: nullifiers scan: %v", common.ErrTransport, err)
		}
		out[types.HashFromBytes(raw)] = true
	}
	return out, rows.Err()
}
