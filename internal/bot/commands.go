package bot

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/approval"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/bwmarrin/discordgo"
)

type handlerFunc func(b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate)

// access is who may run a command
type access int

const (
	accessEveryone access = iota
	accessAdmin           // ADMIN_ROLE_IDS or Administrator
	accessManageRoles     // Manage Roles or Administrator
)

type command struct {
	def     *discordgo.ApplicationCommand
	access  access
	handler handlerFunc
}

var (
	adminPermission       int64 = discordgo.PermissionAdministrator
	manageRolesPermission int64 = discordgo.PermissionManageRoles

	minCooldown float64 = 0
)

const maxCooldown = 3600

func textChannelOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         name,
		Description:  description,
		Required:     required,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

// commandTable is every slash command the bot serves
func commandTable() []command {
	return []command{
		{
			def: &discordgo.ApplicationCommand{
				Name:        "getroles",
				Description: "Evaluate requirements and promote (discord-only or auto-mc depending on config)",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "Minecraft username to evaluate",
						Required:    true,
						MaxLength:   16,
					},
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "member",
						Description: "Discord member to promote (defaults to you)",
					},
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handleGetRoles,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "setuppromotions",
				Description: "Set the channel where promotion approval requests will be sent (admin only)",
				Options: []*discordgo.ApplicationCommandOption{
					textChannelOption("channel", "The promotion queue channel", true),
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handleSetupPromotions,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "promotionchannel",
				Description: "View the currently configured promotion channel",
			},
			access:  accessAdmin,
			handler: (*Bot).handlePromotionChannel,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "promotion_history",
				Description: "Show the latest promotion requests in this server",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "limit",
						Description: "How many requests to show (default 10)",
						MinValue:    floatPtr(1),
						MaxValue:    maxHistory,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "card",
						Description: "Look up one request by its card message ID or link",
					},
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handlePromotionHistory,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "setuplogs",
				Description:              "Choose the channel where audit logs will be posted",
				DefaultMemberPermissions: &adminPermission,
				Options: []*discordgo.ApplicationCommandOption{
					textChannelOption("channel", "The audit log channel", true),
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handleSetupLogs,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "logtest",
				Description:              "Post a test message to the configured logs channel",
				DefaultMemberPermissions: &adminPermission,
			},
			access:  accessAdmin,
			handler: (*Bot).handleLogTest,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "ranksync",
				Description: "Sync your Hypixel Guild rank to the mapped Discord role",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "minecraft_username",
						Description: "Your Minecraft username",
						Required:    true,
						MaxLength:   16,
					},
				},
			},
			access:  accessEveryone,
			handler: (*Bot).handleRankSync,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "ranksync_map",
				Description:              "Map a Hypixel Guild rank to a Discord role (admin)",
				DefaultMemberPermissions: &manageRolesPermission,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "hypixel_guild_rank",
						Description: "Exact rank text as shown by Hypixel (case-insensitive)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "role",
						Description: "The Discord role for this rank",
						Required:    true,
					},
				},
			},
			access:  accessManageRoles,
			handler: (*Bot).handleRankSyncMap,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "ranksync_show",
				Description:              "Show current guild rank → role mappings",
				DefaultMemberPermissions: &manageRolesPermission,
			},
			access:  accessManageRoles,
			handler: (*Bot).handleRankSyncShow,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "ranksync_clear",
				Description:              "Remove a mapping for a Hypixel guild rank (admin)",
				DefaultMemberPermissions: &manageRolesPermission,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "hypixel_guild_rank",
						Description: "The rank whose mapping should be removed",
						Required:    true,
					},
				},
			},
			access:  accessManageRoles,
			handler: (*Bot).handleRankSyncClear,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "verification_setup",
				Description:              "Post the verification embed with the persistent button",
				DefaultMemberPermissions: &adminPermission,
				Options: []*discordgo.ApplicationCommandOption{
					textChannelOption("channel", "Where to post the verification message", true),
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "verified_role",
						Description: "Role granted after a successful verification",
					},
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handleVerificationSetup,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "verification_reset",
				Description:              "Re-post the verification embed to the configured channel",
				DefaultMemberPermissions: &adminPermission,
			},
			access:  accessAdmin,
			handler: (*Bot).handleVerificationReset,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "verification_settings",
				Description:              "View or change verification settings",
				DefaultMemberPermissions: &adminPermission,
				Options: []*discordgo.ApplicationCommandOption{
					textChannelOption("log_channel", "Channel for audit logs", false),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "cooldown_seconds",
						Description: "Seconds between verification attempts (0-3600)",
						MinValue:    &minCooldown,
						MaxValue:    maxCooldown,
					},
				},
			},
			access:  accessAdmin,
			handler: (*Bot).handleVerificationSettings,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "verification_ping",
				Description: "Health check for the verification module",
			},
			access:  accessEveryone,
			handler: (*Bot).handleVerificationPing,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:                     "sync",
				Description:              "Force-sync application commands in this server",
				DefaultMemberPermissions: &adminPermission,
			},
			access:  accessAdmin,
			handler: (*Bot).handleSync,
		},
	}
}

// componentHandlers maps button and modal custom IDs to their handlers.
// Custom IDs are static so cards posted before a restart keep working.
func componentHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		approval.ApproveButtonID: (*Bot).handleApprove,
		approval.RejectButtonID:  (*Bot).handleReject,
		verifyButtonID:           (*Bot).handleVerifyOpen,
		verifyModalID:            (*Bot).handleVerifySubmit,
	}
}

func definitions() []*discordgo.ApplicationCommand {
	table := commandTable()
	defs := make([]*discordgo.ApplicationCommand, 0, len(table))
	for _, cmd := range table {
		defs = append(defs, cmd.def)
	}
	return defs
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := definitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleSync copies the global commands into the current guild so they
// show up without waiting for global propagation
func (b *Bot) handleSync(s *discordgo.Session, i *discordgo.InteractionCreate) {
	synced, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, i.GuildID, definitions())
	if err != nil {
		slog.Error("Failed to sync commands", append(describe(err), "guild", i.GuildID)...)
		respondEphemeral(s, i, "Failed to sync commands. Please try again.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("✅ Synced **%d** commands to this server.", len(synced)))
}

// allowed applies a command's access level to the invoking member
func (b *Bot) allowed(level access, member *discordgo.Member) bool {
	switch level {
	case accessAdmin:
		return isAdmin(member, b.config.AdminRoleIDs)
	case accessManageRoles:
		return member != nil && roles.CanManageRoles(member.Permissions)
	default:
		return true
	}
}

// isAdmin reports whether member holds one of adminRoleIDs or Administrator
func isAdmin(member *discordgo.Member, adminRoleIDs []string) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if slices.Contains(adminRoleIDs, roleID) {
			return true
		}
	}
	return member.Permissions&discordgo.PermissionAdministrator != 0
}

// Helper functions

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func describe(err error) []any {
	return notify.DescribeRESTError(err)
}

func floatPtr(v float64) *float64 {
	return &v
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("Failed to respond to interaction", describe(err)...)
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("Failed to respond to interaction", describe(err)...)
	}
}

// deferEphemeral acknowledges a slow interaction; finish it with editResponse
func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		slog.Warn("Failed to defer interaction", describe(err)...)
	}
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("Failed to edit interaction response", describe(err)...)
	}
}
