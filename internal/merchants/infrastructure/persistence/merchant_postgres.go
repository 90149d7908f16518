// Package persistence implements the merchant repository on PostgreSQL and
// SQLite. Webhook event subscriptions are stored as a comma-separated list.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const merchantColumnsPG = `
	id, name, email, wallet_address, api_key_hash,
	webhook_url, webhook_secret, webhook_events, webhook_active,
	created_at, updated_at, version`

// NewMerchantRepository returns the repository matching the connection's
// driver.
func NewMerchantRepository(conn database.Connection) merchant.Repository {
	if conn.Driver() == database.DriverSQLite {
		return NewSQLiteMerchantRepository(conn)
	}
	return NewPostgresMerchantRepository(conn)
}

// PostgresMerchantRepository implements merchant.Repository on PostgreSQL.
type PostgresMerchantRepository struct {
	conn database.Connection
}

// NewPostgresMerchantRepository creates the PostgreSQL repository.
func NewPostgresMerchantRepository(conn database.Connection) *PostgresMerchantRepository {
	return &PostgresMerchantRepository{conn: conn}
}

func (r *PostgresMerchantRepository) Save(ctx context.Context, m *merchant.Merchant) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	webhook := m.Webhook()

	if m.Version() == 0 {
		query := `
			INSERT INTO merchants (` + merchantColumnsPG + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		`
		_, err := exec.Exec(ctx, query,
			m.ID(), m.Name(), m.Email(), m.WalletAddress(), m.APIKeyHash(),
			nullEmpty(webhook.URL), nullEmpty(webhook.Secret),
			joinEvents(webhook.Events), webhook.Active,
			m.CreatedAt(), m.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("inserting merchant: %w", err)
		}
		m.SetVersion(1)
		return nil
	}

	query := `
		UPDATE merchants SET
			name = $1,
			email = $2,
			webhook_url = $3,
			webhook_secret = $4,
			webhook_events = $5,
			webhook_active = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
	`
	result, err := exec.Exec(ctx, query,
		m.Name(), m.Email(),
		nullEmpty(webhook.URL), nullEmpty(webhook.Secret),
		joinEvents(webhook.Events), webhook.Active,
		m.UpdatedAt(),
		m.ID(), m.Version(),
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

func (r *PostgresMerchantRepository) FindByID(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + merchantColumnsPG + ` FROM merchants WHERE id = $1`
	m, err := scanMerchantPG(exec.QueryRow(ctx, query, id))
	if database.IsNoRows(err) {
		return nil, merchant.ErrNotFound
	}
	return m, err
}

func (r *PostgresMerchantRepository) FindByAPIKeyHash(ctx context.Context, hash string) (*merchant.Merchant, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + merchantColumnsPG + ` FROM merchants WHERE api_key_hash = $1`
	m, err := scanMerchantPG(exec.QueryRow(ctx, query, hash))
	if database.IsNoRows(err) {
		return nil, merchant.ErrNotFound
	}
	return m, err
}

func scanMerchantPG(row database.Row) (*merchant.Merchant, error) {
	var (
		params        merchant.RehydrateParams
		webhookURL    sql.NullString
		webhookSecret sql.NullString
		webhookEvents string
	)
	err := row.Scan(
		&params.ID, &params.Name, &params.Email,
		&params.WalletAddress, &params.APIKeyHash,
		&webhookURL, &webhookSecret, &webhookEvents, &params.Webhook.Active,
		&params.CreatedAt, &params.UpdatedAt, &params.Version,
	)
	if err != nil {
		return nil, err
	}
	params.Webhook.URL = webhookURL.String
	params.Webhook.Secret = webhookSecret.String
	params.Webhook.Events = splitEvents(webhookEvents)
	return merchant.Rehydrate(params), nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinEvents(events []string) string {
	return strings.Join(events, ",")
}

func splitEvents(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
