package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

const (
	verifyButtonID = "verify:open"
	verifyModalID  = "verify:modal"
	verifyIGNField = "verify:ign"

	verifyTitle       = "Verification required"
	verifyDescription = "Click the button below to verify your Minecraft username with your Hypixel-linked Discord."
)

var (
	errNoLinkedDiscord = errors.New("no Discord account is linked")
	errLinkMismatch    = errors.New("linked Discord does not match")
)

// linkLookup is the part of the Hypixel client verification needs
type linkLookup interface {
	UUIDForName(ctx context.Context, name string) (string, error)
	LinkedDiscord(ctx context.Context, uuid string) (string, error)
}

// checkLink resolves ign and compares its linked Discord against the member.
// It returns the linked name when it matches.
func checkLink(ctx context.Context, lookup linkLookup, ign string, member *discordgo.Member) (string, error) {
	uuid, err := lookup.UUIDForName(ctx, ign)
	if err != nil {
		return "", err
	}
	linked, err := lookup.LinkedDiscord(ctx, uuid)
	if err != nil {
		return "", err
	}
	if normalizeName(linked) == "" {
		return "", errNoLinkedDiscord
	}
	for _, candidate := range candidateNames(member) {
		if candidate == normalizeName(linked) {
			return linked, nil
		}
	}
	return linked, errLinkMismatch
}

// candidateNames lists every form of the member's name a player might have
// typed into Hypixel, casefolded
func candidateNames(member *discordgo.Member) []string {
	if member == nil || member.User == nil {
		return nil
	}
	u := member.User

	var parts []string
	add := func(name string) {
		if name != "" {
			parts = append(parts, name)
		}
	}
	add(u.Username)
	add(u.GlobalName)
	add(displayName(member))
	if u.Username != "" && u.Discriminator != "" && u.Discriminator != "0" {
		add(u.Username + "#" + u.Discriminator)
	}

	seen := make(map[string]bool, len(parts)*2)
	var names []string
	for _, p := range parts {
		for _, form := range []string{p, "@" + p} {
			n := normalizeName(form)
			if n != "" && !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

func displayName(member *discordgo.Member) string {
	switch {
	case member.Nick != "":
		return member.Nick
	case member.User.GlobalName != "":
		return member.User.GlobalName
	default:
		return member.User.Username
	}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// cooldownSweep is how often expired attempts are dropped
const cooldownSweep = time.Minute

// cooldowns tracks the last verification attempt per guild member
type cooldowns struct {
	mu    sync.Mutex
	last  map[string]time.Time
	swept time.Time
	now   func() time.Time
}

func newCooldowns() *cooldowns {
	return &cooldowns{last: make(map[string]time.Time), now: time.Now}
}

// take starts a new attempt unless the member is still cooling down, in
// which case it returns the remaining wait
func (c *cooldowns) take(guildID, userID string, window time.Duration) (time.Duration, bool) {
	if window <= 0 {
		return 0, true
	}
	key := guildID + ":" + userID

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)
	if last, ok := c.last[key]; ok {
		if wait := window - now.Sub(last); wait > 0 {
			return wait, false
		}
	}
	c.last[key] = now
	return 0, true
}

// sweep drops attempts older than the longest configurable window. The
// caller holds c.mu.
func (c *cooldowns) sweep(now time.Time) {
	if now.Sub(c.swept) < cooldownSweep {
		return
	}
	c.swept = now
	for key, last := range c.last {
		if now.Sub(last) >= maxCooldown*time.Second {
			delete(c.last, key)
		}
	}
}

// handleVerificationSetup handles the /verification_setup command
func (b *Bot) handleVerificationSetup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	channel := opts["channel"].ChannelValue(nil)

	ctx, cancel := newContext()
	defer cancel()

	if _, err := b.repo.UpdateGuildSettings(ctx, i.GuildID, func(gs *storage.GuildSettings) {
		gs.VerificationChannelID = channel.ID
		gs.VerifiedRoleID = ""
		if opt, ok := opts["verified_role"]; ok {
			gs.VerifiedRoleID = opt.RoleValue(nil, i.GuildID).ID
		}
	}); err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondEphemeral(s, i, "Failed to save verification settings. Please try again.")
		return
	}

	msg, err := postVerifyMessage(s, channel.ID)
	if err != nil {
		slog.Error("Failed to post verification message", append(describe(err), "channel", channel.ID)...)
		respondEphemeral(s, i, fmt.Sprintf("Could not post in <#%s>. Check my permissions there.", channel.ID))
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("✅ Verification message posted in <#%s> (message ID: %s).", channel.ID, msg.ID))
}

// handleVerificationReset handles the /verification_reset command
func (b *Bot) handleVerificationReset(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := newContext()
	defer cancel()

	settings, err := b.repo.GetGuildSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "error", err)
		respondEphemeral(s, i, "Failed to load server settings.")
		return
	}
	if settings.VerificationChannelID == "" {
		respondEphemeral(s, i, "No verification channel configured yet. Run `/verification_setup` first.")
		return
	}

	msg, err := postVerifyMessage(s, settings.VerificationChannelID)
	if err != nil {
		slog.Error("Failed to post verification message", append(describe(err), "channel", settings.VerificationChannelID)...)
		respondEphemeral(s, i, "Configured channel is invalid or not found. Re-run `/verification_setup`.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("🔁 Verification message re-posted in <#%s> (message ID: %s).",
		settings.VerificationChannelID, msg.ID))
}

func postVerifyMessage(s *discordgo.Session, channelID string) (*discordgo.Message, error) {
	return s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       verifyTitle,
			Description: verifyDescription,
			Color:       colorBlurple,
			Footer:      &discordgo.MessageEmbedFooter{Text: "Hypixel verification"},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Verify", Style: discordgo.PrimaryButton, CustomID: verifyButtonID},
			}},
		},
	})
}

// handleVerificationSettings handles the /verification_settings command
func (b *Bot) handleVerificationSettings(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)

	ctx, cancel := newContext()
	defer cancel()

	settings, err := b.repo.UpdateGuildSettings(ctx, i.GuildID, func(gs *storage.GuildSettings) {
		if opt, ok := opts["log_channel"]; ok {
			gs.LogChannelID = opt.ChannelValue(nil).ID
		}
		if opt, ok := opts["cooldown_seconds"]; ok {
			gs.CooldownSeconds = int(opt.IntValue())
		}
	})
	if err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondEphemeral(s, i, "Failed to update verification settings.")
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "Verification Settings",
		Color: colorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Verification Channel", Value: channelMention(settings.VerificationChannelID)},
			{Name: "Verified Role", Value: roleMention(settings.VerifiedRoleID)},
			{Name: "Log Channel", Value: channelMention(settings.LogChannelID)},
			{Name: "Cooldown (s)", Value: fmt.Sprint(settings.CooldownSeconds)},
		},
	})
}

// handleVerificationPing handles the /verification_ping command
func (b *Bot) handleVerificationPing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	respondEphemeral(s, i, "Pong! ✅")
}

// handleVerifyOpen answers the Verify button with the IGN modal
func (b *Bot) handleVerifyOpen(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: verifyModalID,
			Title:    "Hypixel Verification",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    verifyIGNField,
						Label:       "Minecraft Username",
						Style:       discordgo.TextInputShort,
						Placeholder: "Your exact IGN (case-insensitive)",
						Required:    true,
						MinLength:   1,
						MaxLength:   16,
					},
				}},
			},
		},
	})
	if err != nil {
		slog.Warn("Failed to open verification modal", describe(err)...)
	}
}

// handleVerifySubmit checks the submitted IGN against the member's linked
// Discord, then sets their nickname and grants the verified role
func (b *Bot) handleVerifySubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ign := strings.TrimSpace(modalValue(i.ModalSubmitData(), verifyIGNField))
	member := i.Member
	userID := member.User.ID

	ctx, cancel := newContext()
	defer cancel()

	settings, err := b.repo.GetGuildSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "error", err)
		respondEphemeral(s, i, "Failed to load server settings.")
		return
	}

	window := time.Duration(settings.CooldownSeconds) * time.Second
	if wait, ok := b.cooldown.take(i.GuildID, userID, window); !ok {
		respondEphemeral(s, i, fmt.Sprintf("⏳ Please wait %d seconds before trying again.", int(wait.Round(time.Second).Seconds())))
		return
	}

	deferEphemeral(s, i)

	linked, err := checkLink(ctx, b.hypixel, ign, member)
	switch {
	case errors.Is(err, hypixel.ErrNotFound):
		b.editResponse(s, i, fmt.Sprintf("❌ Could not find Minecraft user **%s**.", ign))
		return
	case errors.Is(err, errNoLinkedDiscord):
		b.notifier.DirectMessage(ctx, userID, "No Discord is linked to your Hypixel account.\n"+
			"Use `/social` in Hypixel to link your Discord, then re-run verification.")
		b.editResponse(s, i, "⚠ No Discord linked to that account. Instructions sent in DM.")
		return
	case errors.Is(err, errLinkMismatch):
		b.notifier.DirectMessage(ctx, userID, fmt.Sprintf(
			"⚠ Verification blocked: IGN **%s** is already linked, which does not match your Discord.", ign))
		b.editResponse(s, i, "❌ That IGN is linked to another Discord account. DM sent with details.")
		return
	case err != nil:
		slog.Error("Verification lookup failed", "ign", ign, "error", err)
		b.editResponse(s, i, fmt.Sprintf("Error talking to Hypixel: %v", err))
		return
	}

	nickErr := b.setNickname(ctx, s, i.GuildID, member, ign)

	roleGranted := ""
	var roleErr error
	if settings.VerifiedRoleID != "" {
		grant, err := b.granter.GrantByID(ctx, "verify", i.GuildID, userID, settings.VerifiedRoleID)
		if err != nil {
			roleErr = err
			slog.Warn("Failed to grant verified role", append(describe(err), "guild", i.GuildID, "user", userID)...)
		} else {
			roleGranted = grant.Role.ID
		}
	}

	b.notifier.AuditEmbed(ctx, i.GuildID, &discordgo.MessageEmbed{
		Title: "Verification Success",
		Description: fmt.Sprintf("User: <@%s>\nIGN: **%s**\nLinked Discord: **%s**\nNickname set: %t (%s)\nRole granted: %s (%s)",
			userID, ign, linked, nickErr == nil, errOrOK(nickErr), roleMentionOr(roleGranted, "None"), errOrOK(roleErr)),
		Color: colorGreen,
	})

	parts := []string{fmt.Sprintf("✅ Verified **%s** (linked to your Discord).", ign)}
	if nickErr == nil {
		parts = append(parts, "Nickname updated.")
	} else {
		parts = append(parts, fmt.Sprintf("Nickname not updated: %v.", nickErr))
	}
	switch {
	case roleGranted != "":
		parts = append(parts, fmt.Sprintf("Granted role <@&%s>.", roleGranted))
	case roleErr != nil:
		parts = append(parts, fmt.Sprintf("Role not granted: %v.", roleErr))
	}
	b.editResponse(s, i, strings.Join(parts, " "))
}

func (b *Bot) setNickname(ctx context.Context, s *discordgo.Session, guildID string, member *discordgo.Member, nick string) error {
	if member.Nick == nick {
		return nil
	}
	if err := s.GuildMemberNickname(guildID, member.User.ID, nick, discordgo.WithContext(ctx)); err != nil {
		slog.Warn("Failed to set nickname", append(describe(err), "guild", guildID, "user", member.User.ID)...)
		return err
	}
	return nil
}

// modalValue returns the value of the text input customID
func modalValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok && input.CustomID == customID {
				return input.Value
			}
		}
	}
	return ""
}

func errOrOK(err error) string {
	if err == nil {
		return "OK"
	}
	return err.Error()
}

func channelMention(id string) string {
	if id == "" {
		return "Not set"
	}
	return "<#" + id + ">"
}

func roleMention(id string) string {
	return roleMentionOr(id, "Not set")
}

func roleMentionOr(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return "<@&" + id + ">"
}
