package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const merchantColumnsLite = `
	id, name, email, wallet_address, api_key_hash,
	webhook_url, webhook_secret, webhook_events, webhook_active,
	created_at, updated_at, version`

// SQLiteMerchantRepository implements merchant.Repository on SQLite.
type SQLiteMerchantRepository struct {
	conn database.Connection
}

// NewSQLiteMerchantRepository creates the SQLite repository.
func NewSQLiteMerchantRepository(conn database.Connection) *SQLiteMerchantRepository {
	return &SQLiteMerchantRepository{conn: conn}
}

func (r *SQLiteMerchantRepository) Save(ctx context.Context, m *merchant.Merchant) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	webhook := m.Webhook()

	if m.Version() == 0 {
		query := `
			INSERT INTO merchants (` + merchantColumnsLite + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`
		_, err := exec.Exec(ctx, query,
			m.ID().String(), m.Name(), m.Email(), m.WalletAddress(), m.APIKeyHash(),
			nullEmpty(webhook.URL), nullEmpty(webhook.Secret),
			joinEvents(webhook.Events), webhook.Active,
			formatTime(m.CreatedAt()), formatTime(m.UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("inserting merchant: %w", err)
		}
		m.SetVersion(1)
		return nil
	}

	query := `
		UPDATE merchants SET
			name = ?,
			email = ?,
			webhook_url = ?,
			webhook_secret = ?,
			webhook_events = ?,
			webhook_active = ?,
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := exec.Exec(ctx, query,
		m.Name(), m.Email(),
		nullEmpty(webhook.URL), nullEmpty(webhook.Secret),
		joinEvents(webhook.Events), webhook.Active,
		formatTime(m.UpdatedAt()),
		m.ID().String(), m.Version(),
	)
	if err != nil {
		return fmt.Errorf("updating merchant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return merchant.ErrConcurrentModification
	}
	m.SetVersion(m.Version() + 1)
	return nil
}

func (r *SQLiteMerchantRepository) FindByID(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + merchantColumnsLite + ` FROM merchants WHERE id = ?`
	m, err := scanMerchantLite(exec.QueryRow(ctx, query, id.String()))
	if database.IsNoRows(err) {
		return nil, merchant.ErrNotFound
	}
	return m, err
}

func (r *SQLiteMerchantRepository) FindByAPIKeyHash(ctx context.Context, hash string) (*merchant.Merchant, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + merchantColumnsLite + ` FROM merchants WHERE api_key_hash = ?`
	m, err := scanMerchantLite(exec.QueryRow(ctx, query, hash))
	if database.IsNoRows(err) {
		return nil, merchant.ErrNotFound
	}
	return m, err
}

func scanMerchantLite(row database.Row) (*merchant.Merchant, error) {
	var (
		params        merchant.RehydrateParams
		id            string
		webhookURL    sql.NullString
		webhookSecret sql.NullString
		webhookEvents string
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&id, &params.Name, &params.Email,
		&params.WalletAddress, &params.APIKeyHash,
		&webhookURL, &webhookSecret, &webhookEvents, &params.Webhook.Active,
		&createdAt, &updatedAt, &params.Version,
	)
	if err != nil {
		return nil, err
	}

	if params.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if params.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if params.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	params.Webhook.URL = webhookURL.String
	params.Webhook.Secret = webhookSecret.String
	params.Webhook.Events = splitEvents(webhookEvents)
	return merchant.Rehydrate(params), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
