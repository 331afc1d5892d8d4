package bot

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/config"
	"attendbot/internal/db"

	"github.com/bwmarrin/discordgo"
)

var (
	dmAllowedCommands = map[string]bool{
		"status": true, // Personal commands work in DMs
		"pause":  true,
		"resume": true,
	}
)

type Bot struct {
	config     *config.Config
	db         *db.DB
	hub        *attendance.Hub
	session    *discordgo.Session
	shutdownCh chan struct{}
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewSession creates the Discord session shared by the bot and the approver
// notifier.
func NewSession(cfg config.DiscordConfig) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers

	log.Printf("Bot intents: %d", session.Identify.Intents)
	return session, nil
}

func New(config *config.Config, database *db.DB, session *discordgo.Session, hub *attendance.Hub) *Bot {
	return &Bot{
		config:     config,
		db:         database,
		hub:        hub,
		session:    session,
		shutdownCh: make(chan struct{}),
	}
}

// Helper function to register commands for a guild
func (b *Bot) registerGuildCommands(guildID string) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := b.registerGuildCommandsOnce(guildID)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("Attempt %d to register commands failed: %v", i+1, err)
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %v", maxRetries, lastErr)
}

func (b *Bot) registerGuildCommandsOnce(guildID string) error {
	serverName := getServerName(b.session, guildID)
	log.Print(formatLogMessage(guildID, "Registering commands", "BOT", serverName))

	// BulkOverwrite replaces whatever the previous deployment registered
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.config.Discord.ClientID, guildID, commands)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	for _, v := range registered {
		log.Print(formatLogMessage(guildID, fmt.Sprintf("%s: Registered command", v.Name), "BOT", serverName))
	}
	return nil
}

// Start connects to Discord and serves commands until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	log.Println("Starting attendance bot...")

	// Keep trying to connect until successful
	for {
		log.Println("Testing Discord API connection...")
		if _, err := b.session.User("@me"); err != nil {
			log.Printf("Failed to connect to Discord API: %v. Retrying in 5 seconds...", err)
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}
		log.Println("Successfully connected to Discord API")
		break
	}

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type == discordgo.InteractionApplicationCommand {
			b.handleCommand(ctx, s, i)
		}
	})
	b.session.AddHandler(b.handleGuildCreate)

	// Keep trying to open session until successful
	for {
		if err := b.session.Open(); err != nil {
			log.Printf("Error opening Discord session: %v. Retrying in 5 seconds...", err)
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}
		log.Printf("Session opened successfully (Session ID: %s)", b.session.State.SessionID)
		break
	}

	log.Println("Bot is now running. Press CTRL-C to exit.")

	<-ctx.Done()
	return b.Shutdown()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Shutdown performs a graceful shutdown of the bot
func (b *Bot) Shutdown() error {
	// Ensure we only close the channel once
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.isShutdown = true
	close(b.shutdownCh)
	b.mu.Unlock()

	log.Println("Initiating graceful shutdown...")

	// Wait for all handlers to complete
	log.Println("Waiting for active handlers to complete...")
	b.wg.Wait()

	log.Println("Closing Discord session...")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}

	log.Println("Shutdown completed successfully")
	return nil
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Bot is ready! Connected to %d guilds", len(r.Guilds))
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Print(formatLogMessage(g.ID, "Guild available", "BOT", g.Name))

	if err := b.registerGuildCommands(g.ID); err != nil {
		log.Print(formatLogMessage(g.ID, fmt.Sprintf("Error registering commands: %v", err), "BOT", g.Name))
	} else {
		log.Print(formatLogMessage(g.ID, "Successfully registered all commands", "BOT", g.Name))
	}
}

func (b *Bot) handleCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	// Add defer to catch panics with stack trace
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("Panic in command handler for user %s in guild %s:\nError: %v\nStack Trace:\n%s",
				interactionUsername(i), i.GuildID, r, string(buf[:n]))

			respondWithError(s, i, "An internal error occurred")
		}
	}()

	// Acknowledge first; every handler edits this deferred response
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Print(formatLogMessage(i.GuildID, "Error acknowledging interaction: "+err.Error(), "", ""))
		return
	}

	commandName := i.ApplicationCommandData().Name

	// Strict DM check
	if i.GuildID == "" && !dmAllowedCommands[commandName] {
		respondWithError(s, i, fmt.Sprintf("The `/%s` command can only be used in a server", commandName))
		return
	}

	if i.GuildID != "" && i.Member != nil && i.Member.User != nil {
		if !hasPermission(s, i.GuildID, i.ChannelID, i.Member.User.ID, discordgo.PermissionViewChannel) {
			respondWithError(s, i, "You don't have permission to use this command here")
			return
		}
	}

	switch commandName {
	case "clockin":
		b.handleClockIn(ctx, s, i)
	case "pause":
		b.handlePause(ctx, s, i)
	case "resume":
		b.handleResume(ctx, s, i)
	case "clockout":
		b.handleClockOut(ctx, s, i)
	case "status":
		b.handleStatus(ctx, s, i)
	case "team":
		b.handleTeam(ctx, s, i)
	case "report":
		b.handleReport(ctx, s, i)
	case "approve":
		b.handleApprove(ctx, s, i)
	case "timezone":
		b.handleTimezone(ctx, s, i)
	case "goal":
		b.handleGoal(ctx, s, i)
	case "office":
		b.handleOffice(ctx, s, i)
	default:
		log.Print(formatLogMessage(i.GuildID, "Unknown command: "+commandName, "", ""))
		respondWithError(s, i, "Unknown command")
	}
}
