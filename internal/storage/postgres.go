// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"campaign-delivery/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Storage struct {
	DB *sql.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

// Migrate creates the pipeline tables if they do not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const messageColumns = `id, tenant_id, campaign_id, contact_id, channel, status, provider,
	provider_message_id, status_reason, content_snapshot, queued_at, sent_at, delivered_at,
	read_at, failed_at, updated_at`

const campaignColumns = `id, tenant_id, name, channel, content, status, sent_at,
	resend_of_campaign_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m                             model.Message
		provider, providerID, reason  sql.NullString
		sent, delivered, read, failed sql.NullTime
	)
	err := row.Scan(&m.ID, &m.TenantID, &m.CampaignID, &m.ContactID, &m.Channel, &m.Status,
		&provider, &providerID, &reason, &m.ContentSnapshot, &m.QueuedAt,
		&sent, &delivered, &read, &failed, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Provider = provider.String
	m.ProviderMessageID = providerID.String
	m.StatusReason = reason.String
	m.SentAt = timePtr(sent)
	m.DeliveredAt = timePtr(delivered)
	m.ReadAt = timePtr(read)
	m.FailedAt = timePtr(failed)
	return &m, nil
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c      model.Campaign
		sentAt sql.NullTime
		origin uuid.NullUUID
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Content, &c.Status, &sentAt, &origin, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c.SentAt = timePtr(sentAt)
	if origin.Valid {
		id := origin.UUID
		c.ResendOfCampaignID = &id
	}
	return &c, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Storage) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	return scanMessage(s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (s *Storage) GetContact(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	var c model.Contact
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone, whatsapp, first_name, last_name
		FROM contacts WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.WhatsApp, &c.FirstName, &c.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (s *Storage) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return scanCampaign(s.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
}

func (s *Storage) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var t model.Tenant
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, is_demo, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.IsDemo, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *Storage) GetChannelSettings(ctx context.Context, tenantID uuid.UUID, channel model.Channel) (*model.ChannelSettings, error) {
	var cs model.ChannelSettings
	err := s.DB.QueryRowContext(ctx, `
		SELECT tenant_id, channel, provider, encrypted_credentials, sender_id, messaging_service_id, webhook_base_url
		FROM channel_settings WHERE tenant_id = $1 AND channel = $2`, tenantID, channel).
		Scan(&cs.TenantID, &cs.Channel, &cs.Provider, &cs.EncryptedCredentials, &cs.SenderID,
			&cs.MessagingServiceID, &cs.WebhookBaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel settings: %w", err)
	}
	return &cs, nil
}

func (s *Storage) FindMappingByProviderID(ctx context.Context, provider, providerMessageID string) (*model.ProviderMapping, error) {
	var pm model.ProviderMapping
	err := s.DB.QueryRowContext(ctx, `
		SELECT message_id, provider, provider_message_id, provider_status, updated_at
		FROM provider_mappings WHERE provider = $1 AND provider_message_id = $2`, provider, providerMessageID).
		Scan(&pm.MessageID, &pm.Provider, &pm.ProviderMessageID, &pm.ProviderStatus, &pm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find provider mapping: %w", err)
	}
	return &pm, nil
}

func (s *Storage) FindResendOf(ctx context.Context, originID uuid.UUID) (*model.Campaign, error) {
	return findResendOf(ctx, s.DB, originID)
}

func findResendOf(ctx context.Context, q queryer, originID uuid.UUID) (*model.Campaign, error) {
	return scanCampaign(q.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE resend_of_campaign_id = $1`, originID))
}

func (s *Storage) CampaignCounts(ctx context.Context, campaignID uuid.UUID) (model.StatusCounts, error) {
	var counts model.StatusCounts
	rows, err := s.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM messages WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return counts, fmt.Errorf("campaign counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status model.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan failed: %w", err)
		}
		counts.Add(status, n)
	}
	return counts, rows.Err()
}

func (s *Storage) ListStatusEvents(ctx context.Context, messageID uuid.UUID) ([]model.StatusEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, message_id, provider_message_id, old_status, new_status, event_at, received_at, reason
		FROM status_events WHERE message_id = $1 ORDER BY received_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	defer rows.Close()

	var events []model.StatusEvent
	for rows.Next() {
		var (
			ev                 model.StatusEvent
			providerID, reason sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.MessageID, &providerID, &ev.OldStatus, &ev.NewStatus,
			&ev.EventAt, &ev.ReceivedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ev.ProviderMessageID = providerID.String
		ev.Reason = reason.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Storage) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	return scanMessage(t.tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SaveMessage(ctx context.Context, m *model.Message) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET status = $1, provider = $2, provider_message_id = $3, status_reason = $4,
		    queued_at = $5, sent_at = $6, delivered_at = $7, read_at = $8, failed_at = $9, updated_at = $10
		WHERE id = $11`,
		m.Status, nullString(m.Provider), nullString(m.ProviderMessageID), nullString(m.StatusReason),
		m.QueuedAt, m.SentAt, m.DeliveredAt, m.ReadAt, m.FailedAt, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

func (t *pgTx) AppendStatusEvent(ctx context.Context, ev *model.StatusEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO status_events (id, message_id, provider_message_id, old_status, new_status, event_at, received_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.MessageID, nullString(ev.ProviderMessageID), ev.OldStatus, ev.NewStatus,
		ev.EventAt, ev.ReceivedAt, nullString(ev.Reason))
	if err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertProviderMapping(ctx context.Context, pm *model.ProviderMapping) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO provider_mappings (message_id, provider, provider_message_id, provider_status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, provider)
		DO UPDATE SET provider_message_id = EXCLUDED.provider_message_id,
		              provider_status = EXCLUDED.provider_status,
		              updated_at = EXCLUDED.updated_at`,
		pm.MessageID, pm.Provider, pm.ProviderMessageID, pm.ProviderStatus, pm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert provider mapping: %w", err)
	}
	return nil
}

func (t *pgTx) RefreshMappingStatus(ctx context.Context, messageID uuid.UUID, provider, status string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE provider_mappings SET provider_status = $1, updated_at = $2
		WHERE message_id = $3 AND provider = $4`, status, at, messageID, provider)
	if err != nil {
		return fmt.Errorf("refresh mapping status: %w", err)
	}
	return nil
}

func (t *pgTx) ListRetryableMessages(ctx context.Context, campaignID uuid.UUID, staleBefore time.Time) ([]*model.Message, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE campaign_id = $1
		  AND (status = $2 OR (status = $3 AND updated_at < $4))
		ORDER BY queued_at FOR UPDATE`,
		campaignID, model.StatusFailed, model.StatusProcessing, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list retryable messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) LockCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return scanCampaign(t.tx.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) FindResendOf(ctx context.Context, originID uuid.UUID) (*model.Campaign, error) {
	return findResendOf(ctx, t.tx, originID)
}

func (t *pgTx) ListNonReaders(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT contact_id FROM (
			SELECT DISTINCT ON (contact_id) contact_id, status
			FROM messages
			WHERE campaign_id = $1
			ORDER BY contact_id, queued_at DESC, updated_at DESC
		) latest
		WHERE status <> $2
		ORDER BY contact_id`, campaignID, model.StatusRead)
	if err != nil {
		return nil, fmt.Errorf("list non-readers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	var origin uuid.NullUUID
	if c.ResendOfCampaignID != nil {
		origin = uuid.NullUUID{UUID: *c.ResendOfCampaignID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, channel, content, status, sent_at, resend_of_campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.Name, c.Channel, c.Content, c.Status, c.SentAt, origin, c.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAudience(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) error {
	if len(contactIDs) == 0 {
		return nil
	}
	ids := make([]string, len(contactIDs))
	for i, id := range contactIDs {
		ids[i] = id.String()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO campaign_audience (campaign_id, contact_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, campaignID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("insert audience: %w", err)
	}
	return nil
}

var _ Store = (*Storage)(nil)
