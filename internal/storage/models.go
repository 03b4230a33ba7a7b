package storage

import "time"

// DefaultCooldownSeconds is the verification cooldown when a guild has none set
const DefaultCooldownSeconds = 60

// GuildSettings stores per-server configuration. Empty IDs mean unset.
type GuildSettings struct {
	GuildID               string
	PromotionChannelID    string
	LogChannelID          string
	VerificationChannelID string
	VerifiedRoleID        string
	CooldownSeconds       int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RankRole maps a Hypixel guild rank to a Discord role
type RankRole struct {
	GuildID string
	Rank    string // upper-cased
	RoleID  string
}

// PromotionRecord is the audit history of one promotion request
type PromotionRecord struct {
	ID          string
	GuildID     string
	Mode        string
	Status      string
	RequesterID string
	TargetID    string
	IGN         string
	TargetRank  string
	ChannelID   string
	MessageID   string
	ReviewerID  string
	Detail      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
