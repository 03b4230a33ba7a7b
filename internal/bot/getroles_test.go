package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/bridge"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/config"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	stats promotion.Stats
	err   error
}

func (f *fakeStats) SkyblockStats(_ context.Context, _ string) (promotion.Stats, error) {
	return f.stats, f.err
}

type fakeStore struct {
	settings   storage.GuildSettings
	err        error
	dispatched map[promotion.Status]string
}

func (f *fakeStore) GetGuildSettings(_ context.Context, guildID string) (*storage.GuildSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	gs := f.settings
	gs.GuildID = guildID
	return &gs, nil
}

func (f *fakeStore) RecordDispatch(_ context.Context, _ *promotion.Request, status promotion.Status, detail string) error {
	if f.dispatched == nil {
		f.dispatched = map[promotion.Status]string{}
	}
	f.dispatched[status] = detail
	return nil
}

type fakeQueue struct {
	err       error
	submitted []*promotion.Request
	channels  []string
}

func (f *fakeQueue) Submit(_ context.Context, req *promotion.Request, channelID string) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, req)
	f.channels = append(f.channels, channelID)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

type fakePromoter struct {
	result bridge.Result
	calls  []*promotion.Request
}

func (f *fakePromoter) Promote(_ context.Context, req *promotion.Request) bridge.Result {
	f.calls = append(f.calls, req)
	return f.result
}

var (
	qualified   = promotion.Stats{SkyblockLevel: 250, Masteries: 60}
	underLevel  = promotion.Stats{SkyblockLevel: 120, Masteries: 60}
	fewMastered = promotion.Stats{SkyblockLevel: 250, Masteries: 3}
)

type promotionsFixture struct {
	p        *promotions
	stats    *fakeStats
	store    *fakeStore
	queue    *fakeQueue
	promoter *fakePromoter
}

func newPromotions(mode promotion.Mode, bridgeURL string) *promotionsFixture {
	f := &promotionsFixture{
		stats:    &fakeStats{stats: qualified},
		store:    &fakeStore{settings: storage.GuildSettings{PromotionChannelID: "queue"}},
		queue:    &fakeQueue{},
		promoter: &fakePromoter{result: bridge.Result{Outcome: bridge.Outcome{OK: true, Status: 200}, Mirrored: true}},
	}
	f.p = &promotions{
		stats:    f.stats,
		store:    f.store,
		queue:    f.queue,
		promoter: f.promoter,
		roleCfg: &config.Roles{
			Mode:         mode,
			Requirements: promotion.Requirements{SkyblockLevel: 200},
			Ranks:        promotion.RankTable{10: "Masters", 50: "Legatus"},
			BridgeURL:    bridgeURL,
		},
	}
	return f
}

func (f *promotionsFixture) run() string {
	return f.p.getRoles(context.Background(), promotionRequest{
		GuildID:   "g1",
		Requester: &discordgo.User{ID: "req", Username: "mod"},
		TargetID:  "target",
		Username:  "Techno",
	})
}

func TestGetRolesStatsErrors(t *testing.T) {
	f := newPromotions(promotion.ModeDiscordOnly, "")
	f.stats.err = fmt.Errorf("lookup: %w", hypixel.ErrNotFound)
	assert.Equal(t, "❌ Could not find SkyBlock stats for **Techno**.", f.run())

	f.stats.err = &hypixel.APIError{Service: "Hypixel", StatusCode: 503}
	assert.Contains(t, f.run(), "Error fetching stats")
	assert.Empty(t, f.queue.submitted)
}

func TestGetRolesRejectedListsEveryFailure(t *testing.T) {
	f := newPromotions(promotion.ModeDiscordOnly, "")
	f.stats.stats = underLevel

	reply := f.run()

	assert.Contains(t, reply, "Requirements not met")
	assert.Contains(t, reply, "- SB Level < 200")
	assert.Empty(t, f.queue.submitted)
}

func TestGetRolesNoRankMapping(t *testing.T) {
	f := newPromotions(promotion.ModeAutoMC, "http://bridge")
	f.stats.stats = fewMastered

	assert.Equal(t, "No rank mapping found for your mastery count.", f.run())
	assert.Empty(t, f.promoter.calls)
	assert.Empty(t, f.queue.submitted)
}

func TestGetRolesQueuesForApproval(t *testing.T) {
	f := newPromotions(promotion.ModeDiscordOnly, "http://bridge")

	reply := f.run()

	assert.Equal(t, "✅ Queued promotion for approval: https://discord.com/channels/g1/queue/m1", reply)
	require.Len(t, f.queue.submitted, 1)
	req := f.queue.submitted[0]
	assert.Equal(t, "Legatus", req.Rank)
	assert.Equal(t, "target", req.TargetID)
	assert.Equal(t, "req", req.RequesterID)
	assert.Equal(t, "Techno", req.Handle)
	assert.Equal(t, []string{"queue"}, f.queue.channels)
	assert.Empty(t, f.promoter.calls, "discord-only never calls the bridge")
}

func TestGetRolesWithoutQueueChannel(t *testing.T) {
	f := newPromotions(promotion.ModeDiscordOnly, "")
	f.store.settings.PromotionChannelID = ""

	assert.Equal(t, "No promotion queue channel set. Run `/setuppromotions #channel` first.", f.run())
	assert.Empty(t, f.queue.submitted)
}

func TestGetRolesQueueFailures(t *testing.T) {
	f := newPromotions(promotion.ModeDiscordOnly, "")
	f.queue.err = errors.New("missing access")
	assert.Contains(t, f.run(), "Could not post the promotion card")

	f.store.err = errors.New("database is locked")
	assert.Contains(t, f.run(), "Failed to load server settings")
}

func TestGetRolesWithoutBridgeURL(t *testing.T) {
	f := newPromotions(promotion.ModeAutoMC, "")

	assert.Equal(t, "⚠ `bridge_url` is not set in the role config.", f.run())
	assert.Empty(t, f.promoter.calls)
	assert.Empty(t, f.store.dispatched)
}

func TestGetRolesPromotesViaBridge(t *testing.T) {
	f := newPromotions(promotion.ModeAutoMC, "http://bridge")

	reply := f.run()

	assert.Equal(t, "✅ Auto-promoted **Techno** in Hypixel (target rank: **Legatus**).", reply)
	require.Len(t, f.promoter.calls, 1)
	assert.Equal(t, "Legatus", f.promoter.calls[0].Rank)
	assert.Contains(t, f.store.dispatched, promotion.StatusConfirmed)
	assert.Empty(t, f.queue.submitted, "auto-mc never posts a card")

	f.promoter.result.AlreadyHad = true
	assert.Contains(t, f.run(), "already had the Discord role")

	f.promoter.result.MirrorError = errors.New("role hierarchy")
	assert.Contains(t, f.run(), "could not be mirrored: role hierarchy")
}

func TestGetRolesBridgeFailure(t *testing.T) {
	f := newPromotions(promotion.ModeAutoMC, "http://bridge")
	f.promoter.result = bridge.Result{Outcome: bridge.Outcome{Status: 500, Body: "boom"}}

	reply := f.run()

	assert.Equal(t, "⚠ Auto-MC bridge error: HTTP 500: boom", reply)
	assert.Equal(t, "HTTP 500: boom", f.store.dispatched[promotion.StatusFailed])
	assert.NotContains(t, f.store.dispatched, promotion.StatusConfirmed)
}

func TestCardMessageID(t *testing.T) {
	assert.Equal(t, "123", cardMessageID(" 123 "))
	assert.Equal(t, "789", cardMessageID("https://discord.com/channels/1/456/789"))
}
