package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
)

// commitFailDriver accepts every statement but fails COMMIT, modeling a
// connection lost between the writes and the transaction commit.
type commitFailDriver struct{}

func (commitFailDriver) Open(string) (driver.Conn, error) { return &commitFailConn{}, nil }

type commitFailConn struct{}

func (*commitFailConn) Prepare(string) (driver.Stmt, error) { return &acceptingStmt{}, nil }
func (*commitFailConn) Close() error                        { return nil }
func (*commitFailConn) Begin() (driver.Tx, error)           { return &failingTx{}, nil }

type acceptingStmt struct{}

func (*acceptingStmt) Close() error  { return nil }
func (*acceptingStmt) NumInput() int { return -1 }
func (*acceptingStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}
func (*acceptingStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("query not supported")
}

type failingTx struct{}

func (*failingTx) Commit() error   { return errors.New("driver: connection lost before commit") }
func (*failingTx) Rollback() error { return nil }

func init() {
	sql.Register("ledger-commit-fail", commitFailDriver{})
}

func TestCompareAndSwapTotalReportsCommitFailure(t *testing.T) {
	db, err := sql.Open("ledger-commit-fail", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo := NewLedgerRepository(db, zap.NewNop())
	applied := &domain.AppliedDelta{
		CampaignID:     "camp-1",
		IdempotencyKey: "k1",
		AmountCents:    10000,
		TotalCents:     10000,
		Version:        1,
		AppliedAt:      time.Now(),
	}

	swapped, err := repo.CompareAndSwapTotal(context.Background(), "camp-1", 0, 10000, applied)
	if err == nil {
		t.Fatal("a failed commit must surface as an error, not as a successful apply")
	}
	if swapped {
		t.Fatal("a failed commit must report swapped=false")
	}
}
