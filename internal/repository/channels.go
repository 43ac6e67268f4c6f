package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"otabridge/internal/database"
	"otabridge/internal/models"
)

type ChannelConfigRepository struct {
	db *database.DB
}

func NewChannelConfigRepository(db *database.DB) *ChannelConfigRepository {
	return &ChannelConfigRepository{db: db}
}

const channelConfigColumns = `id, hotel_id, channel, credentials, signature_secret, endpoints,
	language, currency, requests_per_sec, burst, enabled`

func (r *ChannelConfigRepository) Get(ctx context.Context, hotelID string, channel models.Channel) (*models.ChannelConfig, error) {
	query := `SELECT ` + channelConfigColumns + ` FROM channel_configs WHERE hotel_id = $1 AND channel = $2`
	cfg, err := r.scanOne(r.db.QueryRowContext(ctx, query, hotelID, channel))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

// ListByChannel returns every enabled config for a channel; the
// inbound pipeline tries each secret because webhook URLs do not carry
// the hotel id for all channels.
func (r *ChannelConfigRepository) ListByChannel(ctx context.Context, channel models.Channel) ([]models.ChannelConfig, error) {
	query := `SELECT ` + channelConfigColumns + ` FROM channel_configs WHERE channel = $1 AND enabled ORDER BY hotel_id`
	rows, err := r.db.QueryContext(ctx, query, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.ChannelConfig
	for rows.Next() {
		cfg, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (r *ChannelConfigRepository) ListEnabled(ctx context.Context, hotelID string) ([]models.ChannelConfig, error) {
	query := `SELECT ` + channelConfigColumns + ` FROM channel_configs WHERE hotel_id = $1 AND enabled`
	rows, err := r.db.QueryContext(ctx, query, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.ChannelConfig
	for rows.Next() {
		cfg, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (r *ChannelConfigRepository) Upsert(ctx context.Context, cfg *models.ChannelConfig) error {
	endpoints, err := json.Marshal(cfg.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoints: %w", err)
	}

	query := `
		INSERT INTO channel_configs (hotel_id, channel, credentials, signature_secret, endpoints,
			language, currency, requests_per_sec, burst, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (hotel_id, channel) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			signature_secret = EXCLUDED.signature_secret,
			endpoints = EXCLUDED.endpoints,
			language = EXCLUDED.language,
			currency = EXCLUDED.currency,
			requests_per_sec = EXCLUDED.requests_per_sec,
			burst = EXCLUDED.burst,
			enabled = EXCLUDED.enabled
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		cfg.HotelID, cfg.Channel, cfg.Credentials, cfg.SignatureSecret, endpoints,
		cfg.Language, cfg.Currency, cfg.RequestsPerSec, cfg.Burst, cfg.Enabled,
	).Scan(&cfg.ID)
}

func (r *ChannelConfigRepository) scanOne(row interface{ Scan(...interface{}) error }) (*models.ChannelConfig, error) {
	cfg := &models.ChannelConfig{}
	var endpoints []byte
	err := row.Scan(
		&cfg.ID, &cfg.HotelID, &cfg.Channel, &cfg.Credentials, &cfg.SignatureSecret, &endpoints,
		&cfg.Language, &cfg.Currency, &cfg.RequestsPerSec, &cfg.Burst, &cfg.Enabled,
	)
	if err != nil {
		return nil, err
	}
	if len(endpoints) > 0 {
		if err := json.Unmarshal(endpoints, &cfg.Endpoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal endpoints: %w", err)
		}
	}
	return cfg, nil
}
