package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/approval"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

const (
	defaultHistory = 10
	maxHistory     = 25
)

// handleGetRoles handles the /getroles command: fetch stats, evaluate the
// requirements and hand the request to the approval queue or the bridge
func (b *Bot) handleGetRoles(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	in := promotionRequest{
		GuildID:   i.GuildID,
		Requester: i.Member.User,
		TargetID:  i.Member.User.ID,
		Username:  strings.TrimSpace(opts["username"].StringValue()),
	}
	if opt, ok := opts["member"]; ok {
		in.TargetID = opt.UserValue(nil).ID
	}

	// Stats lookups can take several seconds
	deferEphemeral(s, i)

	ctx, cancel := newContext()
	defer cancel()

	b.editResponse(s, i, b.promotions.getRoles(ctx, in))
}

// handleSetupPromotions handles the /setuppromotions command
func (b *Bot) handleSetupPromotions(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channel := i.ApplicationCommandData().Options[0].ChannelValue(nil)

	ctx, cancel := newContext()
	defer cancel()

	if _, err := b.repo.UpdateGuildSettings(ctx, i.GuildID, func(gs *storage.GuildSettings) {
		gs.PromotionChannelID = channel.ID
	}); err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondEphemeral(s, i, "Failed to set the promotion channel. Please try again.")
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Promotion Queue Channel Set",
		Description: fmt.Sprintf("Promotion requests will be sent to <#%s>.", channel.ID),
		Color:       colorGreen,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Change anytime with /setuppromotions"},
	})
}

// handlePromotionChannel handles the /promotionchannel command
func (b *Bot) handlePromotionChannel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := newContext()
	defer cancel()

	settings, err := b.repo.GetGuildSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "error", err)
		respondEphemeral(s, i, "Failed to load server settings.")
		return
	}
	if settings.PromotionChannelID == "" {
		respondEphemeral(s, i, "⚠ No promotion channel set. Use `/setuppromotions #channel`.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("📌 Current promotion channel: <#%s>", settings.PromotionChannelID))
}

// handlePromotionHistory handles the /promotion_history command
func (b *Bot) handlePromotionHistory(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	limit := defaultHistory
	if opt, ok := opts["limit"]; ok {
		limit = int(opt.IntValue())
	}

	ctx, cancel := newContext()
	defer cancel()

	if opt, ok := opts["card"]; ok {
		b.showPromotionCard(ctx, s, i, cardMessageID(opt.StringValue()))
		return
	}

	records, err := b.repo.GetRecentPromotions(ctx, i.GuildID, limit)
	if err != nil {
		slog.Error("Failed to load promotion history", "guild", i.GuildID, "error", err)
		respondEphemeral(s, i, "Failed to load promotion history.")
		return
	}
	if len(records) == 0 {
		respondEphemeral(s, i, "No promotion requests recorded in this server yet.")
		return
	}

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(formatHistoryLine(r))
		sb.WriteString("\n")
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Recent Promotions",
		Description: notify.Truncate(sb.String(), notify.MaxEmbedDescription),
		Color:       colorBlurple,
	})
}

// showPromotionCard answers /promotion_history card:<id or link>
func (b *Bot) showPromotionCard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, messageID string) {
	rec, err := b.repo.GetPromotionByMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && rec.GuildID != i.GuildID) {
		respondEphemeral(s, i, "No promotion request recorded for that card.")
		return
	}
	if err != nil {
		slog.Error("Failed to load promotion card", "guild", i.GuildID, "message", messageID, "error", err)
		respondEphemeral(s, i, "Failed to load promotion history.")
		return
	}
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Promotion Request",
		Description: formatHistoryLine(rec),
		Color:       colorBlurple,
	})
}

// cardMessageID accepts a bare message ID or a message link
func cardMessageID(v string) string {
	v = strings.TrimSpace(v)
	if idx := strings.LastIndex(v, "/"); idx >= 0 {
		v = v[idx+1:]
	}
	return v
}

func formatHistoryLine(r *storage.PromotionRecord) string {
	line := fmt.Sprintf("<t:%d:d> **%s** → **%s** for <@%s> (%s, %s)",
		r.CreatedAt.Unix(), r.IGN, r.TargetRank, r.TargetID, r.Mode, r.Status)
	if r.ReviewerID != "" {
		line += fmt.Sprintf(" by <@%s>", r.ReviewerID)
	}
	if r.MessageID != "" {
		line += fmt.Sprintf(" • [card](%s)", notify.JumpURL(r.GuildID, r.ChannelID, r.MessageID))
	}
	if r.Detail != "" && r.Status == string(promotion.StatusFailed) {
		line += ": " + notify.Truncate(r.Detail, 120)
	}
	return line
}

// handleApprove handles the Approve button on a promotion card
func (b *Bot) handleApprove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	ctx, cancel := newContext()
	defer cancel()

	res, err := b.workflow.Approve(ctx, reviewAction(i))
	if err != nil {
		b.editResponse(s, i, reviewErrorMessage(err, res))
		return
	}

	reply := fmt.Sprintf("✅ Approved **%s** → **%s** for <@%s>.", res.Handle, res.RoleName, res.TargetID)
	if res.AlreadyHad {
		reply += " They already had the role."
	}
	b.editResponse(s, i, reply)
}

// handleReject handles the Reject button on a promotion card
func (b *Bot) handleReject(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	ctx, cancel := newContext()
	defer cancel()

	res, err := b.workflow.Reject(ctx, reviewAction(i))
	if err != nil {
		b.editResponse(s, i, reviewErrorMessage(err, res))
		return
	}
	b.editResponse(s, i, "❌ Promotion request rejected.")
}

func reviewAction(i *discordgo.InteractionCreate) approval.Action {
	return approval.Action{
		GuildID:     i.GuildID,
		ReviewerID:  i.Member.User.ID,
		ReviewerTag: i.Member.User.String(),
		Permissions: i.Member.Permissions,
		Message:     i.Message,
	}
}

// reviewErrorMessage turns an approval error into the reviewer's ephemeral reply
func reviewErrorMessage(err error, res *approval.Resolution) string {
	rank := ""
	if res != nil {
		rank = res.Rank
	}
	switch {
	case errors.Is(err, approval.ErrPermissionDenied):
		return "You need **Manage Roles** to review promotions."
	case errors.Is(err, approval.ErrAlreadyResolved):
		return "This promotion request was already resolved."
	case errors.Is(err, approval.ErrCardMalformed), errors.Is(err, approval.ErrNoTarget):
		return fmt.Sprintf("Could not read this promotion card: %v.", err)
	case errors.Is(err, roles.ErrRoleNotFound):
		return fmt.Sprintf("Role **%s** not found.", rank)
	case errors.Is(err, roles.ErrBotMissingPermission):
		return "I need **Manage Roles** permission."
	case errors.Is(err, roles.ErrRoleHierarchy):
		return fmt.Sprintf("The role **%s** is higher than my top role. Adjust role hierarchy.", rank)
	default:
		return fmt.Sprintf("Failed to apply the promotion: %v", err)
	}
}
