package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	err   error
	calls int
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestRunInTx_Commit(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	runner := NewTxRunner(b)

	var seen pgx.Tx
	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != b.tx {
		t.Error("expected tx to be visible inside fn")
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("expected commit without rollback, got committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestRunInTx_RollbackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")

	err := NewTxRunner(b).RunInTx(context.Background(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("expected rollback, got committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestRunInTx_BeginError(t *testing.T) {
	b := &fakeBeginner{err: errors.New("pool closed")}
	called := false
	err := NewTxRunner(b).RunInTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected begin error without calling fn, err=%v called=%v", err, called)
	}
}

func TestRunInTx_NestedReusesOuter(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	runner := NewTxRunner(b)

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		return runner.RunInTx(ctx, func(ctx context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 1 {
		t.Errorf("expected a single Begin, got %d", b.calls)
	}
}

func TestRunInTx_NoDatabase(t *testing.T) {
	if err := NewTxRunner(nil).RunInTx(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error without database")
	}
}
