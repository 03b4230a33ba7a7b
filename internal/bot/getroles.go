package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/bridge"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/config"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

type statsSource interface {
	SkyblockStats(ctx context.Context, name string) (promotion.Stats, error)
}

type promotionStore interface {
	GetGuildSettings(ctx context.Context, guildID string) (*storage.GuildSettings, error)
	RecordDispatch(ctx context.Context, req *promotion.Request, status promotion.Status, detail string) error
}

type cardQueue interface {
	Submit(ctx context.Context, req *promotion.Request, queueChannelID string) (*discordgo.Message, error)
}

type bridgePromoter interface {
	Promote(ctx context.Context, req *promotion.Request) bridge.Result
}

// promotionRequest is one /getroles invocation
type promotionRequest struct {
	GuildID   string
	Requester *discordgo.User
	TargetID  string
	Username  string
}

// promotions evaluates /getroles requests and routes accepted ones to the
// approval queue or the bridge. It returns the requester's reply.
type promotions struct {
	stats    statsSource
	store    promotionStore
	queue    cardQueue
	promoter bridgePromoter
	roleCfg  *config.Roles
	metrics  *metrics.Recorder
}

func (p *promotions) getRoles(ctx context.Context, in promotionRequest) string {
	stats, err := p.stats.SkyblockStats(ctx, in.Username)
	if err != nil {
		slog.Error("Failed to fetch stats", "username", in.Username, "error", err)
		if errors.Is(err, hypixel.ErrNotFound) {
			return fmt.Sprintf("❌ Could not find SkyBlock stats for **%s**.", in.Username)
		}
		return fmt.Sprintf("Error fetching stats: %v", err)
	}

	decision := promotion.Evaluate(stats, p.roleCfg.Requirements, p.roleCfg.Ranks)
	p.metrics.Decision(decision.Outcome.String())
	slog.Info("Evaluated promotion", "username", in.Username, "outcome", decision.Outcome, "rank", decision.Rank)

	switch decision.Outcome {
	case promotion.OutcomeRejected:
		return "❌ Requirements not met:\n- " + strings.Join(decision.Reasons, "\n- ")
	case promotion.OutcomeNoRankMapping:
		return "No rank mapping found for your mastery count."
	}

	req := promotion.NewRequest(in.GuildID, in.Requester.ID, in.Requester.String(), in.TargetID, in.Username, decision.Rank, stats)

	if p.roleCfg.Mode == promotion.ModeAutoMC {
		return p.promoteViaBridge(ctx, req)
	}
	return p.queueForApproval(ctx, req)
}

func (p *promotions) queueForApproval(ctx context.Context, req *promotion.Request) string {
	settings, err := p.store.GetGuildSettings(ctx, req.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "guild", req.GuildID, "error", err)
		return "Failed to load server settings. Please try again."
	}
	if settings.PromotionChannelID == "" {
		return "No promotion queue channel set. Run `/setuppromotions #channel` first."
	}

	msg, err := p.queue.Submit(ctx, req, settings.PromotionChannelID)
	if err != nil {
		return "❌ Could not post the promotion card. Check my permissions in the queue channel."
	}
	return fmt.Sprintf("✅ Queued promotion for approval: %s", notify.JumpURL(req.GuildID, msg.ChannelID, msg.ID))
}

func (p *promotions) promoteViaBridge(ctx context.Context, req *promotion.Request) string {
	if p.roleCfg.BridgeURL == "" {
		return "⚠ `bridge_url` is not set in the role config."
	}

	result := p.promoter.Promote(ctx, req)

	status := promotion.StatusConfirmed
	if !result.Outcome.OK {
		status = promotion.StatusFailed
	}
	if err := p.store.RecordDispatch(ctx, req, status, result.Outcome.Summary()); err != nil {
		slog.Warn("Failed to record bridge dispatch", "request", req.ID, "error", err)
	}

	if !result.Outcome.OK {
		return "⚠ Auto-MC bridge error: " + notify.Truncate(result.Outcome.Summary(), bridge.MaxBodyLength)
	}

	reply := fmt.Sprintf("✅ Auto-promoted **%s** in Hypixel (target rank: **%s**).", req.Handle, req.Rank)
	switch {
	case result.MirrorError != nil:
		reply += fmt.Sprintf("\n⚠ The Discord role could not be mirrored: %v", result.MirrorError)
	case result.AlreadyHad:
		reply += "\nThe member already had the Discord role."
	}
	return reply
}
