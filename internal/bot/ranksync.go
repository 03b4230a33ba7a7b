package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

// handleRankSync handles the /ranksync command: the caller's Hypixel guild
// rank decides which mapped role they hold
func (b *Bot) handleRankSync(s *discordgo.Session, i *discordgo.InteractionCreate) {
	username := strings.TrimSpace(i.ApplicationCommandData().Options[0].StringValue())
	userID := i.Member.User.ID

	deferEphemeral(s, i)

	ctx, cancel := newContext()
	defer cancel()

	uuid, err := b.hypixel.UUIDForName(ctx, username)
	if err != nil {
		if errors.Is(err, hypixel.ErrNotFound) {
			b.editResponse(s, i, fmt.Sprintf("I couldn't find **%s** on Mojang.", username))
			return
		}
		slog.Error("Failed to resolve username", "username", username, "error", err)
		b.editResponse(s, i, fmt.Sprintf("Error talking to Mojang: %v", err))
		return
	}

	guild, err := b.hypixel.GuildByPlayer(ctx, uuid)
	if err != nil {
		if errors.Is(err, hypixel.ErrNotInGuild) {
			b.editResponse(s, i, "You are not in a Hypixel Guild.")
			return
		}
		slog.Error("Failed to fetch guild", "uuid", uuid, "error", err)
		b.editResponse(s, i, fmt.Sprintf("Error talking to Hypixel: %v", err))
		return
	}

	rank, ok := guild.RankOf(uuid)
	if !ok {
		b.editResponse(s, i, "Could not locate you in the guild member list.")
		return
	}

	mappings, err := b.repo.GetRankRoles(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load rank mappings", "guild", i.GuildID, "error", err)
		b.editResponse(s, i, "Failed to load rank mappings.")
		return
	}

	roleID, managed := resolveRankRole(mappings, rank)
	if roleID == "" {
		b.editResponse(s, i, fmt.Sprintf("No role is mapped for your guild rank **%s**.\n"+
			"Ask an admin to map it with `/ranksync_map`.\nCurrently configured: %s.",
			rank, configuredRanks(mappings)))
		return
	}

	grant, removed, err := b.granter.Replace(ctx, "ranksync", i.GuildID, userID, roleID, managed)
	if err != nil {
		slog.Error("Failed to sync rank role", append(describe(err), "guild", i.GuildID, "user", userID, "rank", rank)...)
		switch {
		case errors.Is(err, roles.ErrRoleNotFound):
			b.editResponse(s, i, "The mapped Discord role no longer exists. Ask an admin to remap.")
		case errors.Is(err, roles.ErrBotMissingPermission):
			b.editResponse(s, i, "I need **Manage Roles** permission.")
		case errors.Is(err, roles.ErrRoleHierarchy):
			b.editResponse(s, i, "The target role is higher than my top role. Adjust role hierarchy.")
		default:
			b.editResponse(s, i, "I don't have permission to edit your roles.")
		}
		return
	}

	removedNames := make([]string, 0, len(removed))
	for _, r := range removed {
		removedNames = append(removedNames, r.Name)
	}
	removedStr := "none"
	if len(removedNames) > 0 {
		removedStr = strings.Join(removedNames, ", ")
	}

	b.notifier.Audit(ctx, i.GuildID, fmt.Sprintf("🔁 **Rank synced**: <@%s> (IGN **%s**) **%s** → <@&%s>",
		userID, username, rank, grant.Role.ID))
	b.editResponse(s, i, fmt.Sprintf("✅ Rank synced: **%s** → <@&%s> (removed: %s).", rank, grant.Role.ID, removedStr))
}

// resolveRankRole returns the role mapped to rank and every mapped role ID
func resolveRankRole(mappings []*storage.RankRole, rank string) (string, []string) {
	rank = storage.NormalizeRank(rank)
	roleID := ""
	managed := make([]string, 0, len(mappings))
	for _, m := range mappings {
		managed = append(managed, m.RoleID)
		if m.Rank == rank {
			roleID = m.RoleID
		}
	}
	return roleID, managed
}

func configuredRanks(mappings []*storage.RankRole) string {
	if len(mappings) == 0 {
		return "none configured"
	}
	ranks := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ranks = append(ranks, m.Rank)
	}
	return strings.Join(ranks, ", ")
}

// handleRankSyncMap handles the /ranksync_map command
func (b *Bot) handleRankSyncMap(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	rank := storage.NormalizeRank(opts["hypixel_guild_rank"].StringValue())
	role := opts["role"].RoleValue(nil, i.GuildID)

	if rank == "" {
		respondEphemeral(s, i, "The rank must not be empty.")
		return
	}

	ctx, cancel := newContext()
	defer cancel()

	if err := b.repo.SetRankRole(ctx, i.GuildID, rank, role.ID); err != nil {
		slog.Error("Failed to save rank mapping", "guild", i.GuildID, "rank", rank, "error", err)
		respondEphemeral(s, i, "Failed to save the mapping. Please try again.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Mapped Hypixel rank **%s** → <@&%s>.", rank, role.ID))
}

// handleRankSyncShow handles the /ranksync_show command
func (b *Bot) handleRankSyncShow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := newContext()
	defer cancel()

	mappings, err := b.repo.GetRankRoles(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load rank mappings", "guild", i.GuildID, "error", err)
		respondEphemeral(s, i, "Failed to load rank mappings.")
		return
	}
	if len(mappings) == 0 {
		respondEphemeral(s, i, "No mappings configured.")
		return
	}

	existing := map[string]bool{}
	if guildRoles, err := s.GuildRoles(i.GuildID, discordgo.WithContext(ctx)); err == nil {
		for _, r := range guildRoles {
			existing[r.ID] = true
		}
	}

	var sb strings.Builder
	for _, m := range mappings {
		if len(existing) == 0 || existing[m.RoleID] {
			sb.WriteString(fmt.Sprintf("**%s** → <@&%s>\n", m.Rank, m.RoleID))
		} else {
			sb.WriteString(fmt.Sprintf("**%s** → `%s` (missing)\n", m.Rank, m.RoleID))
		}
	}
	respondEphemeral(s, i, sb.String())
}

// handleRankSyncClear handles the /ranksync_clear command
func (b *Bot) handleRankSyncClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	rank := storage.NormalizeRank(i.ApplicationCommandData().Options[0].StringValue())

	ctx, cancel := newContext()
	defer cancel()

	removed, err := b.repo.DeleteRankRole(ctx, i.GuildID, rank)
	if err != nil {
		slog.Error("Failed to delete rank mapping", "guild", i.GuildID, "rank", rank, "error", err)
		respondEphemeral(s, i, "Failed to remove the mapping. Please try again.")
		return
	}
	if !removed {
		respondEphemeral(s, i, "No mapping found for that rank.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Removed mapping for **%s**.", rank))
}
