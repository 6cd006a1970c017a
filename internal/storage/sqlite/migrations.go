package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// Transaction IDs use AUTOINCREMENT so IDs stay strictly increasing and
// are never reused even after deletes or concurrent inserts.
// Amounts are stored as TEXT holding exact decimal strings.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    spender INTEGER NOT NULL,
    amount TEXT NOT NULL,
    description TEXT NOT NULL,
    share TEXT NOT NULL,
    FOREIGN KEY (spender) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS debts (
    transaction_id INTEGER NOT NULL,
    debtor_id INTEGER NOT NULL,
    share TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'marked', 'confirmed')),
    PRIMARY KEY (transaction_id, debtor_id),
    FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_debts_debtor_status ON debts(debtor_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_spender ON transactions(spender);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
