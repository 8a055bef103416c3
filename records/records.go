// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
)

const (
	ErrNotFound = common.ConstError("record not found")
	// DefaultFile is the name of the records database within a data
	// directory.
	DefaultFile = "records.db"

	busyTimeoutMs = 5000
)

// Deployment is the durable receipt of a contract deployment.
type Deployment struct {
	ID         uuid.UUID     `json:"id"`
	ContractID common.Hash   `json:"contractId"`
	CodeHash   common.Hash   `json:"codeHash"`
	Target     string        `json:"target"`
	Position   uint64        `json:"position"`
	Cost       amount.Amount `json:"cost"`
	Toolchain  string        `json:"toolchain"`
	Signer     string        `json:"signer"`
	Address    string        `json:"address"`
	Signature  []byte        `json:"signature"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Verification is the outcome of comparing a local build with the code of
// a deployed contract.
type Verification struct {
	ID         uuid.UUID   `json:"id"`
	ContractID common.Hash `json:"contractId"`
	LocalHash  common.Hash `json:"localHash"`
	RemoteHash common.Hash `json:"remoteHash"`
	Match      bool        `json:"match"`
	Toolchain  string      `json:"toolchain"`
	Target     string      `json:"target"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Store keeps deployment receipts and verification records in SQLite.
// Records are written once and can never be updated or deleted.
type Store struct {
	db *sql.DB
}

// Open opens or creates the records database at the given path.
func Open(file string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", filepath.Clean(file), busyTimeoutMs)
	return open(dsn, 0)
}

// OpenInMemory creates a records database that is discarded on close.
func OpenInMemory() (*Store, error) {
	return open(":memory:", 1)
}

func open(dsn string, maxConnections int) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxConnections > 0 {
		// every connection to :memory: is a database of its own
		db.SetMaxOpenConns(maxConnections)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Join(fmt.Errorf("ping sqlite: %w", err), db.Close())
	}
	store := &Store{db: db}
	if err := store.ensureSchema(); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return store, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		target TEXT NOT NULL,
		position INTEGER NOT NULL,
		cost TEXT NOT NULL,
		toolchain TEXT NOT NULL,
		signer TEXT NOT NULL,
		address TEXT NOT NULL,
		signature BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deployments_by_contract ON deployments (contract_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		local_hash TEXT NOT NULL,
		remote_hash TEXT NOT NULL,
		matched INTEGER NOT NULL,
		toolchain TEXT NOT NULL,
		target TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS verifications_by_contract ON verifications (contract_id, created_at)`,
}

func immutable(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_no_update BEFORE UPDATE ON %[1]s
		BEGIN SELECT RAISE(ABORT, '%[1]s are immutable'); END`, table),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_no_delete BEFORE DELETE ON %[1]s
		BEGIN SELECT RAISE(ABORT, '%[1]s are immutable'); END`, table),
	}
}

func (s *Store) ensureSchema() error {
	statements := append(append(append([]string{}, schema...), immutable("deployments")...), immutable("verifications")...)
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("create records schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds storable range", value)
	}
	return int64(value), nil
}

func timestamp(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromTimestamp(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// AddDeployment stores a deployment receipt. Receipts with an ID already
// present are rejected.
func (s *Store) AddDeployment(ctx context.Context, d Deployment) error {
	position, err := toInt64(d.Position)
	if err != nil {
		return fmt.Errorf("deployment %v: %w", d.ID, err)
	}
	signature := d.Signature
	if signature == nil {
		signature = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, contract_id, code_hash, target, position, cost, toolchain, signer, address, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.ContractID.Hex(), d.CodeHash.Hex(), d.Target, position, d.Cost.String(),
		d.Toolchain, d.Signer, d.Address, signature, timestamp(d.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert deployment %v: %w", d.ID, err)
	}
	return nil
}

const deploymentColumns = `id, contract_id, code_hash, target, position, cost, toolchain, signer, address, signature, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (Deployment, error) {
	var d Deployment
	var id, contract, code, cost string
	var position, created int64
	if err := row.Scan(&id, &contract, &code, &d.Target, &position, &cost, &d.Toolchain, &d.Signer, &d.Address, &d.Signature, &created); err != nil {
		return Deployment{}, err
	}
	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return Deployment{}, err
	}
	if d.ContractID, err = common.HexToHash(contract); err != nil {
		return Deployment{}, err
	}
	if d.CodeHash, err = common.HexToHash(code); err != nil {
		return Deployment{}, err
	}
	if d.Cost, err = amount.Parse(cost); err != nil {
		return Deployment{}, err
	}
	d.Position = uint64(position)
	d.Timestamp = fromTimestamp(created)
	return d, nil
}

// Deployment reads the deployment receipt with the given ID.
func (s *Store) Deployment(ctx context.Context, id uuid.UUID) (Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id.String())
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, fmt.Errorf("%w: deployment %v", ErrNotFound, id)
	}
	return d, err
}

// Deployments lists all deployments of a contract, oldest first.
func (s *Store) Deployments(ctx context.Context, contract common.Hash) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE contract_id = ? ORDER BY created_at, id`, contract.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AddVerification stores a verification record.
func (s *Store) AddVerification(ctx context.Context, v Verification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (id, contract_id, local_hash, remote_hash, matched, toolchain, target, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.ContractID.Hex(), v.LocalHash.Hex(), v.RemoteHash.Hex(), v.Match, v.Toolchain, v.Target, timestamp(v.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert verification %v: %w", v.ID, err)
	}
	return nil
}

const verificationColumns = `id, contract_id, local_hash, remote_hash, matched, toolchain, target, created_at`

func scanVerification(row scanner) (Verification, error) {
	var v Verification
	var id, contract, local, remote string
	var created int64
	if err := row.Scan(&id, &contract, &local, &remote, &v.Match, &v.Toolchain, &v.Target, &created); err != nil {
		return Verification{}, err
	}
	var err error
	if v.ID, err = uuid.Parse(id); err != nil {
		return Verification{}, err
	}
	if v.ContractID, err = common.HexToHash(contract); err != nil {
		return Verification{}, err
	}
	if v.LocalHash, err = common.HexToHash(local); err != nil {
		return Verification{}, err
	}
	if v.RemoteHash, err = common.HexToHash(remote); err != nil {
		return Verification{}, err
	}
	v.Timestamp = fromTimestamp(created)
	return v, nil
}

// Verification reads the verification record with the given ID.
func (s *Store) Verification(ctx context.Context, id uuid.UUID) (Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id = ?`, id.String())
	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, fmt.Errorf("%w: verification %v", ErrNotFound, id)
	}
	return v, err
}

// Verifications lists all verifications of a contract, oldest first.
func (s *Store) Verifications(ctx context.Context, contract common.Hash) ([]Verification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE contract_id = ? ORDER BY created_at, id`, contract.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
