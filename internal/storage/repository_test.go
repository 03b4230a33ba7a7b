package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "data", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMigrationsAreRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")

	repo, err := storage.NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.SetRankRole(context.Background(), "g1", "officer", "r1"))
	require.NoError(t, repo.Close())

	repo, err = storage.NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	mappings, err := repo.GetRankRoles(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestGuildSettingsDefaults(t *testing.T) {
	repo := newRepo(t)

	s, err := repo.GetGuildSettings(context.Background(), "g1")

	require.NoError(t, err)
	assert.Equal(t, "g1", s.GuildID)
	assert.Equal(t, storage.DefaultCooldownSeconds, s.CooldownSeconds)
	assert.Empty(t, s.PromotionChannelID)
}

func TestUpdateGuildSettingsKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.UpdateGuildSettings(ctx, "g1", func(s *storage.GuildSettings) {
		s.PromotionChannelID = "queue"
	})
	require.NoError(t, err)
	_, err = repo.UpdateGuildSettings(ctx, "g1", func(s *storage.GuildSettings) {
		s.LogChannelID = "logs"
		s.CooldownSeconds = 0
	})
	require.NoError(t, err)

	s, err := repo.GetGuildSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "queue", s.PromotionChannelID)
	assert.Equal(t, "logs", s.LogChannelID)
	assert.Equal(t, 0, s.CooldownSeconds)

	logs, err := repo.LogChannelID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "logs", logs)

	logs, err = repo.LogChannelID(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRankRoleMapping(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SetRankRole(ctx, "g1", " officer ", "r1"))
	require.NoError(t, repo.SetRankRole(ctx, "g1", "Member", "r2"))
	require.NoError(t, repo.SetRankRole(ctx, "g1", "OFFICER", "r3"))
	require.NoError(t, repo.SetRankRole(ctx, "g2", "MEMBER", "r9"))

	mappings, err := repo.GetRankRoles(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "MEMBER", mappings[0].Rank)
	assert.Equal(t, "OFFICER", mappings[1].Rank)
	assert.Equal(t, "r3", mappings[1].RoleID)

	removed, err := repo.DeleteRankRole(ctx, "g1", "member")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.DeleteRankRole(ctx, "g1", "member")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPromotionHistory(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	req := promotion.NewRequest("g1", "mod", "mod#1", "target", "Techno", "Elite", promotion.Stats{})

	require.NoError(t, repo.RecordCard(ctx, req, "queue", "m1"))
	require.NoError(t, repo.ResolveCard(ctx, "m1", promotion.StatusApproved, "mod"))

	rec, err := repo.GetPromotionByMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, rec.ID)
	assert.Equal(t, string(promotion.StatusApproved), rec.Status)
	assert.Equal(t, string(promotion.ModeDiscordOnly), rec.Mode)
	assert.Equal(t, "Techno", rec.IGN)
	assert.Equal(t, "mod", rec.ReviewerID)

	auto := promotion.NewRequest("g1", "mod", "mod#1", "target", "Dream", "Legend", promotion.Stats{})
	require.NoError(t, repo.RecordDispatch(ctx, auto, promotion.StatusFailed, "HTTP 502"))

	recent, err := repo.GetRecentPromotions(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.ElementsMatch(t, []string{req.ID, auto.ID}, []string{recent[0].ID, recent[1].ID})

	_, err = repo.GetPromotionByMessage(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
