package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/approval"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/bridge"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/config"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/storage"
	"github.com/bwmarrin/discordgo"
)

// interactionTimeout bounds all work done for a single interaction
const interactionTimeout = 45 * time.Second

// Bot represents the Discord bot instance
type Bot struct {
	config  *config.Config
	roleCfg *config.Roles
	session *discordgo.Session
	repo    *storage.Repository
	metrics *metrics.Recorder

	hypixel  *hypixel.Client
	notifier *notify.Notifier
	granter  *roles.Granter
	workflow *approval.Workflow
	promoter *bridge.Promoter
	cooldown *cooldowns

	promotions *promotions

	commands   map[string]command
	components map[string]handlerFunc
}

// New creates a new Bot instance
func New(cfg *config.Config, roleCfg *config.Roles, rec *metrics.Recorder) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// One limiter for every DM the process sends
	limiter := notify.NewRateLimiter(cfg.DMInterval)
	notifier := notify.New(session, repo, limiter,
		notify.WithDMRetry(cfg.DMBackoff, cfg.DMMaxRetries),
		notify.WithMetrics(rec),
	)

	b := &Bot{
		config:   cfg,
		roleCfg:  roleCfg,
		session:  session,
		repo:     repo,
		metrics:  rec,
		notifier: notifier,
		cooldown: newCooldowns(),
		hypixel: hypixel.NewClient(cfg.HypixelAPIKey,
			hypixel.WithSkyHelper(cfg.SkyHelperURLs, cfg.SkyHelperAPIKey, cfg.SkyHelperAPIBearer),
			hypixel.WithMetrics(rec),
		),
		commands:   make(map[string]command),
		components: componentHandlers(),
	}
	for _, cmd := range commandTable() {
		b.commands[cmd.def.Name] = cmd
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// Start wires the role-changing components, opens the Discord connection
// and registers commands
func (b *Bot) Start(ctx context.Context) error {
	// The granter acts as the bot user, so resolve it before any interaction arrives
	me, err := b.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch bot user: %w", err)
	}
	b.granter = roles.NewGranter(b.session, me.ID, b.metrics)
	b.workflow = approval.New(b.session, b.granter, b.notifier, b.repo, b.metrics)
	dispatcher := bridge.NewDispatcher(b.roleCfg.BridgeURL, b.roleCfg.BridgeToken, b.roleCfg.BridgeTimeout(), b.metrics)
	b.promoter = bridge.NewPromoter(dispatcher, b.granter, b.notifier)
	b.promotions = &promotions{
		stats:    b.hypixel,
		store:    b.repo,
		queue:    b.workflow,
		promoter: b.promoter,
		roleCfg:  b.roleCfg,
		metrics:  b.metrics,
	}

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)
	slog.Info("Promotion mode", "mode", b.roleCfg.Mode, "ranks", len(b.roleCfg.Ranks))

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Let approval DMs already queued go out before the session closes
	if b.workflow != nil {
		b.workflow.Wait()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleMemberJoin)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction routes slash commands, buttons and modal submissions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

		cmd, ok := b.commands[data.Name]
		if !ok {
			slog.Warn("Unknown command", "command", data.Name)
			return
		}
		if i.Member == nil {
			respondEphemeral(s, i, "Run this command inside a server.")
			return
		}
		if !b.allowed(cmd.access, i.Member) {
			respondEphemeral(s, i, "You don't have permission to use this command.")
			return
		}
		cmd.handler(b, s, i)

	case discordgo.InteractionMessageComponent:
		b.routeComponent(s, i, i.MessageComponentData().CustomID)

	case discordgo.InteractionModalSubmit:
		b.routeComponent(s, i, i.ModalSubmitData().CustomID)
	}
}

func (b *Bot) routeComponent(s *discordgo.Session, i *discordgo.InteractionCreate, customID string) {
	slog.Debug("Received component", "custom_id", customID, "guild", i.GuildID)

	handler, ok := b.components[customID]
	if !ok {
		slog.Warn("Unknown component", "custom_id", customID)
		return
	}
	if i.Member == nil {
		respondEphemeral(s, i, "Run this inside a server.")
		return
	}
	handler(b, s, i)
}

// handleMemberJoin welcomes new members, publicly if their DMs are closed
func (b *Bot) handleMemberJoin(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	settings, err := b.repo.GetGuildSettings(ctx, m.GuildID)
	if err != nil {
		slog.Warn("Failed to load guild settings for welcome", "guild", m.GuildID, "error", err)
		settings = &storage.GuildSettings{GuildID: m.GuildID}
	}

	systemChannelID := ""
	if g, err := s.State.Guild(m.GuildID); err == nil {
		systemChannelID = g.SystemChannelID
	}

	b.notifier.Welcome(ctx, m.User.ID, welcomeDM,
		fmt.Sprintf("Welcome <@%s>! Please verify by clicking the **Verify** button above.", m.User.ID),
		settings.VerificationChannelID, settings.LogChannelID, systemChannelID,
	)
}

const welcomeDM = "Welcome! Please verify by clicking the **Verify** button in the server.\n" +
	"If you can't find it, check the verification channel."

func newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), interactionTimeout)
}
