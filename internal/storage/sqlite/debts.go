package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"splittab/internal/models"
)

// debtDetailQuery joins debts with their transaction and both display names.
// LEFT JOINs keep the row even if a user was never registered on this store.
const debtDetailQuery = `
	SELECT t.id, t.description, t.spender, COALESCE(su.display_name, ''),
	       d.debtor_id, COALESCE(du.display_name, ''), d.share, d.status
	FROM debts d
	JOIN transactions t ON t.id = d.transaction_id
	LEFT JOIN users su ON su.id = t.spender
	LEFT JOIN users du ON du.id = d.debtor_id
`

// PendingDebtsFor returns the debts where the user is the debtor and the
// status is still pending.
func (s *SQLiteStore) PendingDebtsFor(ctx context.Context, userID int64) ([]models.DebtDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		debtDetailQuery+"WHERE d.debtor_id = ? AND d.status = ? ORDER BY t.id",
		userID, string(models.DebtPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending debts: %w", err)
	}
	defer rows.Close()

	return scanDebtDetails(rows)
}

// SummaryFor returns every debt owed to and owed by the user, all statuses.
func (s *SQLiteStore) SummaryFor(ctx context.Context, userID int64) (*models.Summary, error) {
	owedToUser, err := s.queryDebtDetails(ctx,
		debtDetailQuery+"WHERE t.spender = ? ORDER BY t.id, d.debtor_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debts owed to user: %w", err)
	}

	owedByUser, err := s.queryDebtDetails(ctx,
		debtDetailQuery+"WHERE d.debtor_id = ? ORDER BY t.id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debts owed by user: %w", err)
	}

	return &models.Summary{OwedToUser: owedToUser, OwedByUser: owedByUser}, nil
}

func (s *SQLiteStore) queryDebtDetails(ctx context.Context, query string, args ...any) ([]models.DebtDetail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDebtDetails(rows)
}

func scanDebtDetails(rows *sql.Rows) ([]models.DebtDetail, error) {
	var details []models.DebtDetail
	for rows.Next() {
		var d models.DebtDetail
		var share, status string
		if err := rows.Scan(&d.TransactionID, &d.Description, &d.Spender, &d.SpenderName,
			&d.Debtor, &d.DebtorName, &share, &status); err != nil {
			return nil, fmt.Errorf("failed to scan debt detail: %w", err)
		}
		parsed, err := decimal.NewFromString(share)
		if err != nil {
			return nil, fmt.Errorf("failed to parse share: %w", err)
		}
		d.Share = parsed
		d.Status = models.DebtStatus(status)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debt details: %w", err)
	}
	return details, nil
}
