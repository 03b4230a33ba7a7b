package bot

import (
	"fmt"
	"log/slog"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

const (
	colorGreen   = 0x2ecc71
	colorBlurple = 0x5865f2
)

// handleSetupLogs handles the /setuplogs command
func (b *Bot) handleSetupLogs(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channel := i.ApplicationCommandData().Options[0].ChannelValue(nil)

	ctx, cancel := newContext()
	defer cancel()

	if _, err := b.repo.UpdateGuildSettings(ctx, i.GuildID, func(gs *storage.GuildSettings) {
		gs.LogChannelID = channel.ID
	}); err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondEphemeral(s, i, "Failed to set the logs channel. Please try again.")
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Logs channel set",
		Description: fmt.Sprintf("Audit logs will be posted in <#%s>.", channel.ID),
		Color:       colorBlurple,
		Footer:      &discordgo.MessageEmbedFooter{Text: "You can change this anytime with /setuplogs"},
	})
}

// handleLogTest posts directly rather than through the notifier so the
// admin sees the actual failure
func (b *Bot) handleLogTest(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := newContext()
	defer cancel()

	logID, err := b.repo.LogChannelID(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "error", err)
		respondEphemeral(s, i, "Failed to load server settings.")
		return
	}
	if logID == "" {
		respondEphemeral(s, i, "No logs channel configured. Run `/setuplogs` first.")
		return
	}

	_, err = s.ChannelMessageSendEmbed(logID, &discordgo.MessageEmbed{
		Description: fmt.Sprintf("🧪 **Log test** by <@%s>", i.Member.User.ID),
		Color:       colorGreen,
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("Log test failed", append(describe(err), "channel", logID)...)
		respondEphemeral(s, i, "Configured logs channel is invalid or missing. Run `/setuplogs` again.")
		return
	}
	respondEphemeral(s, i, "Sent a test log ✅")
}
