package store

import (
	"context"
	"database/sql"
	"time"

	"certledger/internal/certificate/ports"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresTx runs callbacks in a database/sql transaction. The subject row is
// locked by FindByIDForUpdate inside the callback, which serializes writers
// for the same subject.
type PostgresTx struct {
	db           *sql.DB
	certificates *PostgresCertificateStore
	subjects     *PostgresSubjectStore
	timeout      time.Duration
}

func NewPostgresTx(db *sql.DB, opts ...TxOption) *PostgresTx {
	cfg := applyTxOptions(opts)
	return &PostgresTx{
		db:           db,
		certificates: NewPostgresCertificateStore(db),
		subjects:     NewPostgresSubjectStore(db),
		timeout:      cfg.timeout,
	}
}

func (t *PostgresTx) RunInTx(ctx context.Context, _ id.SubjectID, fn func(ctx context.Context, stores ports.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stores := ports.Stores{Certificates: t.certificates, Subjects: t.subjects}
	if err := fn(txcontext.WithTx(ctx, tx), stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// View runs fn in a read-only REPEATABLE READ transaction; every statement in
// fn sees the snapshot taken by its first query.
func (t *PostgresTx) View(ctx context.Context, _ id.SubjectID, fn func(ctx context.Context, stores ports.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "read aborted: context cancelled")
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stores := ports.Stores{Certificates: t.certificates, Subjects: t.subjects}
	if err := fn(txcontext.WithTx(ctx, tx), stores); err != nil {
		return err
	}
	return tx.Commit()
}
