package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

// runMigrations applies the embedded goose migrations
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return err
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to verify migration version: %w", err)
	}
	slog.Debug("Database migrated", "version", version)
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Guild settings operations

// GetGuildSettings returns the guild's settings, or defaults when none are stored
func (r *Repository) GetGuildSettings(ctx context.Context, guildID string) (*GuildSettings, error) {
	s := &GuildSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT guild_id, promotion_channel_id, log_channel_id, verification_channel_id, verified_role_id,
		        cooldown_seconds, created_at, updated_at
		 FROM guild_settings WHERE guild_id = ?`,
		guildID,
	).Scan(&s.GuildID, &s.PromotionChannelID, &s.LogChannelID, &s.VerificationChannelID, &s.VerifiedRoleID,
		&s.CooldownSeconds, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &GuildSettings{GuildID: guildID, CooldownSeconds: DefaultCooldownSeconds}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertGuildSettings creates or updates guild settings
func (r *Repository) UpsertGuildSettings(ctx context.Context, s *GuildSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, promotion_channel_id, log_channel_id, verification_channel_id,
		                             verified_role_id, cooldown_seconds, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		     promotion_channel_id = excluded.promotion_channel_id,
		     log_channel_id = excluded.log_channel_id,
		     verification_channel_id = excluded.verification_channel_id,
		     verified_role_id = excluded.verified_role_id,
		     cooldown_seconds = excluded.cooldown_seconds,
		     updated_at = excluded.updated_at`,
		s.GuildID, s.PromotionChannelID, s.LogChannelID, s.VerificationChannelID,
		s.VerifiedRoleID, s.CooldownSeconds, time.Now().UTC(),
	)
	return err
}

// UpdateGuildSettings loads the guild's settings, applies fn and stores them
func (r *Repository) UpdateGuildSettings(ctx context.Context, guildID string, fn func(*GuildSettings)) (*GuildSettings, error) {
	s, err := r.GetGuildSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	fn(s)
	if err := r.UpsertGuildSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// LogChannelID returns the audit channel of a guild, empty if unset
func (r *Repository) LogChannelID(ctx context.Context, guildID string) (string, error) {
	s, err := r.GetGuildSettings(ctx, guildID)
	if err != nil {
		return "", err
	}
	return s.LogChannelID, nil
}

// Rank sync operations

// SetRankRole maps a guild rank to a role, replacing any previous mapping
func (r *Repository) SetRankRole(ctx context.Context, guildID, rank, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rank_role_map (guild_id, guild_rank, role_id) VALUES (?, ?, ?)
		 ON CONFLICT(guild_id, guild_rank) DO UPDATE SET role_id = excluded.role_id`,
		guildID, NormalizeRank(rank), roleID,
	)
	return err
}

// DeleteRankRole removes a mapping and reports whether one existed
func (r *Repository) DeleteRankRole(ctx context.Context, guildID, rank string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rank_role_map WHERE guild_id = ? AND guild_rank = ?`,
		guildID, NormalizeRank(rank),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRankRoles returns the guild's mappings ordered by rank
func (r *Repository) GetRankRoles(ctx context.Context, guildID string) ([]*RankRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT guild_id, guild_rank, role_id FROM rank_role_map WHERE guild_id = ? ORDER BY guild_rank`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*RankRole
	for rows.Next() {
		m := &RankRole{}
		if err := rows.Scan(&m.GuildID, &m.Rank, &m.RoleID); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// NormalizeRank is the stored form of a guild rank
func NormalizeRank(rank string) string {
	return strings.ToUpper(strings.TrimSpace(rank))
}

// Promotion history operations

// RecordCard stores a queued discord-only request and the card that carries it
func (r *Repository) RecordCard(ctx context.Context, req *promotion.Request, channelID, messageID string) error {
	return r.insertPromotion(ctx, req, promotion.ModeDiscordOnly, promotion.StatusPending, channelID, messageID, "")
}

// ResolveCard marks the request behind a card approved or rejected
func (r *Repository) ResolveCard(ctx context.Context, messageID string, status promotion.Status, reviewerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE promotion_requests SET status = ?, reviewer_id = ?, updated_at = ? WHERE message_id = ?`,
		string(status), reviewerID, time.Now().UTC(), messageID,
	)
	return err
}

// RecordDispatch stores the outcome of an auto-mc request
func (r *Repository) RecordDispatch(ctx context.Context, req *promotion.Request, status promotion.Status, detail string) error {
	return r.insertPromotion(ctx, req, promotion.ModeAutoMC, status, "", "", detail)
}

// GetPromotionByMessage finds the request behind a card
func (r *Repository) GetPromotionByMessage(ctx context.Context, messageID string) (*PromotionRecord, error) {
	rows, err := r.queryPromotions(ctx, `WHERE message_id = ? LIMIT 1`, messageID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// GetRecentPromotions returns a guild's latest requests, newest first
func (r *Repository) GetRecentPromotions(ctx context.Context, guildID string, limit int) ([]*PromotionRecord, error) {
	return r.queryPromotions(ctx, `WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?`, guildID, limit)
}

func (r *Repository) insertPromotion(ctx context.Context, req *promotion.Request, mode promotion.Mode, status promotion.Status, channelID, messageID, detail string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO promotion_requests (id, guild_id, mode, status, requester_id, target_id, ign, target_rank,
		                                 channel_id, message_id, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.GuildID, string(mode), string(status), req.RequesterID, req.TargetID, req.Handle, req.Rank,
		channelID, messageID, detail, req.CreatedAt.UTC(), now,
	)
	return err
}

func (r *Repository) queryPromotions(ctx context.Context, where string, args ...any) ([]*PromotionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guild_id, mode, status, requester_id, target_id, ign, target_rank,
		        channel_id, message_id, reviewer_id, detail, created_at, updated_at
		 FROM promotion_requests `+where,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PromotionRecord
	for rows.Next() {
		p := &PromotionRecord{}
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Mode, &p.Status, &p.RequesterID, &p.TargetID, &p.IGN, &p.TargetRank,
			&p.ChannelID, &p.MessageID, &p.ReviewerID, &p.Detail, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, p)
	}

	return records, rows.Err()
}
