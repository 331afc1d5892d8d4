package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatTime formats a time using the worker's timezone
func formatTime(t time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

// formatLogMessage prefixes a log line with guild, server and user.
func formatLogMessage(guildID, message, user, server string) string {
	var prefix []string
	if server != "" {
		prefix = append(prefix, server)
	}
	if guildID != "" {
		prefix = append(prefix, guildID)
	}
	if user != "" {
		prefix = append(prefix, user)
	}
	if len(prefix) == 0 {
		return message
	}
	return fmt.Sprintf("[%s] %s", strings.Join(prefix, "|"), message)
}

// getServerName returns the guild name from the state cache, falling back to
// the API.
func getServerName(s *discordgo.Session, guildID string) string {
	if guildID == "" {
		return "DM"
	}
	if s.State != nil {
		if g, err := s.State.Guild(guildID); err == nil {
			return g.Name
		}
	}
	g, err := s.Guild(guildID)
	if err != nil {
		return guildID
	}
	return g.Name
}

// hasPermission reports whether the member holds perm in the channel.
func hasPermission(s *discordgo.Session, guildID, channelID, userID string, perm int64) bool {
	if s.State != nil {
		if p, err := s.State.UserChannelPermissions(userID, channelID); err == nil {
			return p&perm != 0 || p&discordgo.PermissionAdministrator != 0
		}
	}
	// Unknown to the cache; fall back to the admin check
	return isAdmin(s, guildID, userID)
}

// respondWithError edits the deferred response with an error
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	content := "Error: " + errMsg
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

// respondWithSuccess edits the deferred response with msg
func respondWithSuccess(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg}); err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

// respondWithAttendanceError maps an engine error to user-facing text
func respondWithAttendanceError(s *discordgo.Session, i *discordgo.InteractionCreate, op string, err error) {
	logError(s, i.ChannelID, op, err.Error())
	respondWithError(s, i, attendance.UserMessage(err))
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func interactionUsername(i *discordgo.InteractionCreate) string {
	if u := interactionUser(i); u != nil {
		return u.Username
	}
	return "unknown"
}

// getWorkerFromInteraction gets or creates a worker from the interaction
func (b *Bot) getWorkerFromInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) (*models.Worker, error) {
	u := interactionUser(i)
	if u == nil {
		err := fmt.Errorf("could not get user information from interaction")
		respondWithError(s, i, err.Error())
		return nil, err
	}

	worker, err := b.db.GetOrCreateWorker(ctx, u.ID, u.Username, b.config.Attendance.DefaultDailyGoal)
	if err != nil {
		respondWithError(s, i, "Error getting worker: "+err.Error())
		return nil, err
	}
	return worker, nil
}

// commandParams flattens the invoked options for logging
func commandParams(options []*discordgo.ApplicationCommandInteractionDataOption) []string {
	var params []string
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand:
			params = append(params, opt.Name)
			params = append(params, commandParams(opt.Options)...)
		case discordgo.ApplicationCommandOptionString:
			params = append(params, fmt.Sprintf("%s:%s", opt.Name, opt.StringValue()))
		case discordgo.ApplicationCommandOptionNumber:
			params = append(params, fmt.Sprintf("%s:%g", opt.Name, opt.FloatValue()))
		case discordgo.ApplicationCommandOptionUser:
			params = append(params, fmt.Sprintf("%s:%v", opt.Name, opt.Value))
		}
	}
	return params
}

// logCommand logs command execution to console and sends to the server
func logCommand(s *discordgo.Session, i *discordgo.InteractionCreate, commandName string, details ...string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	logMessage := fmt.Sprintf("[%s] %s executed /%s", timestamp, interactionUsername(i), commandName)
	if params := commandParams(i.ApplicationCommandData().Options); len(params) > 0 {
		logMessage += fmt.Sprintf(" [%s]", strings.Join(params, ", "))
	}
	if len(details) > 0 {
		logMessage += fmt.Sprintf(" (%s)", strings.Join(details, " "))
	}

	// Log to console
	log.Println(logMessage)

	// DMs have no server log
	if i.GuildID != "" {
		sendServerLog(s, i.ChannelID, logMessage)
	}
}

// logError logs errors to both console and Discord server
func logError(s *discordgo.Session, channelID string, errContext, errMsg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	logMessage := fmt.Sprintf("[%s] ERROR - %s: %s", timestamp, errContext, errMsg)

	// Log to console
	log.Println(logMessage)

	// Send log to Discord server
	sendServerLog(s, channelID, logMessage)
}

// sendServerLog sends a log message to the Discord server
func sendServerLog(s *discordgo.Session, channelID string, message string) {
	if channelID == "" {
		return
	}
	_, err := s.ChannelMessageSend(channelID, fmt.Sprintf("`%s`", message))
	if err != nil {
		log.Printf("Error sending log to Discord: %v", err)
	}
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	// Find the maximum width for each column
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var result strings.Builder

	// Write headers
	result.WriteString("```\n")
	for i, header := range headers {
		result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, header))
	}
	result.WriteString("\n")

	// Write separator
	for _, width := range widths {
		result.WriteString(strings.Repeat("-", width+2))
	}
	result.WriteString("\n")

	// Write rows
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, cell))
		}
		result.WriteString("\n")
	}
	result.WriteString("```")

	return result.String()
}

// Helper function to truncate strings that are too long
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Helper function to check if a user is an admin
func isAdmin(s *discordgo.Session, guildID string, userID string) bool {
	if guildID == "" {
		return false
	}

	member, err := s.GuildMember(guildID, userID)
	if err != nil {
		log.Printf("Error getting guild member: %v", err)
		return false
	}

	// Get guild to check roles
	guild, err := s.Guild(guildID)
	if err != nil {
		log.Printf("Error getting guild: %v", err)
		return false
	}

	// First check if user is the guild owner
	if guild.OwnerID == userID {
		log.Print(formatLogMessage(guildID, "User is the guild owner", userID, guild.Name))
		return true
	}

	// Check each role the user has
	for _, roleID := range member.Roles {
		for _, role := range guild.Roles {
			if role.ID == roleID {
				if role.Permissions&discordgo.PermissionAdministrator != 0 || role.Permissions&discordgo.PermissionManageServer != 0 {
					log.Printf("User %s is admin via role %s", userID, role.Name)
					return true
				}
				break
			}
		}
	}

	log.Printf("User %s is not an admin in guild %s", userID, guildID)
	return false
}
