// Package sqlxrepos implements the relational repositories on PostgreSQL,
// with squirrel building the queries and sqlx scanning the results.
package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// runInTx runs fn within a transaction, committing on success and rolling
// back on failure.
func runInTx(ctx context.Context, db core.DB, fn func(tx core.DBTransactor) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
