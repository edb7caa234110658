package database

import (
	"context"
	"database/sql"
	"fmt"

	"kptv-timeshift/work/types"
)

const accountColumns = `a.id, a.name, a.server_url, a.username, a.password, a.account_type, a.user_agent`

// scanAccount reads accountColumns into a ProviderAccount
func scanAccount(dest []any, a *types.ProviderAccount) []any {
	return append(dest, &a.ID, &a.Name, &a.ServerURL, &a.Username, &a.Password, &a.AccountType, &a.UserAgent)
}

// SaveAccount inserts or updates a provider account. A zero ID inserts a new row.
func (db *DB) SaveAccount(ctx context.Context, a *types.ProviderAccount) (int64, error) {
	query := `
		INSERT INTO m3u_accounts (id, name, server_url, username, password, account_type, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			server_url = excluded.server_url,
			username = excluded.username,
			password = excluded.password,
			account_type = excluded.account_type,
			user_agent = excluded.user_agent,
			updated_at = strftime('%s', 'now')
	`

	accountType := a.AccountType
	if accountType == "" {
		accountType = types.AccountTypeXC
	}

	result, err := db.ExecContext(ctx, query,
		nullableID(a.ID), a.Name, a.ServerURL, a.Username, a.Password, accountType, a.UserAgent)
	if err != nil {
		return 0, fmt.Errorf("failed to save account %s: %w", a.Name, err)
	}

	return savedID(result, a.ID)
}

// GetAccount retrieves a provider account by id. Returns nil when it does not exist.
func (db *DB) GetAccount(ctx context.Context, id int64) (*types.ProviderAccount, error) {
	var a types.ProviderAccount
	err := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM m3u_accounts a WHERE a.id = ?`, id).
		Scan(scanAccount(nil, &a)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &a, nil
}

// ListAccounts returns every provider account ordered by id.
func (db *DB) ListAccounts(ctx context.Context) ([]*types.ProviderAccount, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+accountColumns+` FROM m3u_accounts a ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*types.ProviderAccount
	for rows.Next() {
		var a types.ProviderAccount
		if err := rows.Scan(scanAccount(nil, &a)...); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}

	return accounts, rows.Err()
}
