package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"
	"attendbot/internal/geofence"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

var (
	minGoalHours = 0.5

	commands = []*discordgo.ApplicationCommand{
		{
			Name:        "clockin",
			Description: "Start today's shift",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "onsite",
					Description: "Clock in at your office",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "latitude",
							Description: "Your current latitude",
						},
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "longitude",
							Description: "Your current longitude",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remote",
					Description: "Clock in remotely (needs approval)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "reason",
							Description: "Why you are working remotely",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "pause",
			Description: "Start a break",
		},
		{
			Name:        "resume",
			Description: "End your break",
		},
		{
			Name:        "clockout",
			Description: "End today's shift",
		},
		{
			Name:        "status",
			Description: "Show your attendance for today",
		},
		{
			Name:        "team",
			Description: "Show who is working right now",
		},
		{
			Name:        "report",
			Description: "Show worked hours for a period",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "Time period",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Today", Value: "today"},
						{Name: "Last 7 days", Value: "week"},
						{Name: "Last 30 days", Value: "month"},
						{Name: "Previous month", Value: "last_month"},
					},
				},
			},
		},
		{
			Name:        "approve",
			Description: "Approve or reject a remote attendance record (Admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "record",
					Description: "Attendance record ID",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "decision",
					Description: "Decision",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Approve", Value: string(models.ApprovalApproved)},
						{Name: "Reject", Value: string(models.ApprovalRejected)},
					},
				},
			},
		},
		{
			Name:        "timezone",
			Description: "Set your timezone",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "zone",
					Description: "Timezone (e.g., Asia/Jakarta, Europe/London)",
					Required:    true,
				},
			},
		},
		{
			Name:        "goal",
			Description: "Set your daily working goal",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "hours",
					Description: "Hours per day",
					Required:    true,
					MinValue:    &minGoalHours,
					MaxValue:    24,
				},
			},
		},
		{
			Name:        "office",
			Description: "Manage office geofences (Admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Assign an office geofence to a user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to assign",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Office name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "latitude",
							Description: "Office latitude",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "longitude",
							Description: "Office longitude",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "radius",
							Description: "Allowed radius in meters",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "clear",
					Description: "Remove a user's office geofence",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to clear",
							Required:    true,
						},
					},
				},
			},
		},
	}
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsByName(options []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	m := make(optionMap, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

// clockInRequest builds the engine request from a /clockin subcommand. An
// onsite request without both coordinates carries no position.
func clockInRequest(sub *discordgo.ApplicationCommandInteractionDataOption) attendance.ClockInRequest {
	opts := optionsByName(sub.Options)
	req := attendance.ClockInRequest{Mode: models.Mode(sub.Name)}

	switch req.Mode {
	case models.ModeOnsite:
		lat, okLat := opts["latitude"]
		lon, okLon := opts["longitude"]
		if okLat && okLon {
			req.Position = &geofence.Point{Lat: lat.FloatValue(), Lon: lon.FloatValue()}
		}
	case models.ModeRemote:
		if reason, ok := opts["reason"]; ok {
			req.Reason = reason.StringValue()
		}
	}
	return req
}

// workerSession resolves the caller's worker and attendance tracker.
func (b *Bot) workerSession(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) (*attendance.Tracker, *models.Worker, bool) {
	worker, err := b.getWorkerFromInteraction(ctx, s, i)
	if err != nil {
		logError(s, i.ChannelID, "get worker", err.Error())
		return nil, nil, false
	}

	tracker, err := b.hub.Session(ctx, worker)
	if err != nil {
		respondWithAttendanceError(s, i, "load session", err)
		return nil, nil, false
	}
	return tracker, worker, true
}

func (b *Bot) handleClockIn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "clockin")

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		respondWithError(s, i, "Choose onsite or remote")
		return
	}

	tracker, worker, ok := b.workerSession(ctx, s, i)
	if !ok {
		return
	}

	st, err := tracker.ClockIn(ctx, clockInRequest(data.Options[0]))
	if err != nil {
		respondWithAttendanceError(s, i, "clock in", err)
		return
	}

	msg := "Clocked in.\n" + describeState(st, worker, time.Now())
	if st.PendingApproval {
		msg += "\nYour remote attendance was sent for approval."
	}
	respondWithSuccess(s, i, msg)
}

func (b *Bot) handlePause(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "pause")

	tracker, worker, ok := b.workerSession(ctx, s, i)
	if !ok {
		return
	}

	st, err := tracker.Pause(ctx)
	if err != nil {
		respondWithAttendanceError(s, i, "pause", err)
		return
	}
	respondWithSuccess(s, i, "Break started.\n"+describeState(st, worker, time.Now()))
}

func (b *Bot) handleResume(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "resume")

	tracker, worker, ok := b.workerSession(ctx, s, i)
	if !ok {
		return
	}

	st, err := tracker.Resume(ctx)
	if err != nil {
		respondWithAttendanceError(s, i, "resume", err)
		return
	}
	respondWithSuccess(s, i, "Back to work.\n"+describeState(st, worker, time.Now()))
}

func (b *Bot) handleClockOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "clockout")

	tracker, worker, ok := b.workerSession(ctx, s, i)
	if !ok {
		return
	}

	st, err := tracker.ClockOut(ctx)
	if err != nil {
		respondWithAttendanceError(s, i, "clock out", err)
		return
	}
	respondWithSuccess(s, i, "Clocked out.\n"+describeState(st, worker, time.Now()))
}

func (b *Bot) handleStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "status")

	tracker, worker, ok := b.workerSession(ctx, s, i)
	if !ok {
		return
	}
	respondWithSuccess(s, i, describeState(tracker.State(), worker, time.Now()))
}

func (b *Bot) handleTeam(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "team")

	open, err := b.db.ListOpenRecords(ctx)
	if err != nil {
		respondWithError(s, i, "Error retrieving open records: "+err.Error())
		return
	}

	workers, err := b.db.ListWorkers(ctx)
	if err != nil {
		respondWithError(s, i, "Error retrieving workers: "+err.Error())
		return
	}

	respondWithSuccess(s, i, "Current Status\n\n"+teamTable(workers, open, time.Now()))
}

// teamTable lists workers with an open record first, then everyone else.
func teamTable(workers []*models.Worker, open []*models.AttendanceRecord, now time.Time) string {
	byWorker := make(map[uuid.UUID]*models.AttendanceRecord, len(open))
	for _, rec := range open {
		byWorker[rec.WorkerID] = rec
	}

	var active, idle [][]string
	for _, w := range workers {
		rec, ok := byWorker[w.ID]
		if !ok {
			idle = append(idle, []string{"○ " + truncateString(w.Username, 18), "Not clocked in", "-"})
			continue
		}

		st := attendance.Derive(rec, now)
		label := string(st.Status)
		if rec.Mode == models.ModeRemote {
			label += " (remote"
			if st.PendingApproval {
				label += ", pending"
			} else if st.Rejected {
				label += ", rejected"
			}
			label += ")"
		}
		active = append(active, []string{"● " + truncateString(w.Username, 18), label, formatDuration(st.Elapsed)})
	}

	sort.Slice(active, func(a, b int) bool { return active[a][0] < active[b][0] })
	sort.Slice(idle, func(a, b int) bool { return idle[a][0] < idle[b][0] })
	return formatTable([]string{"USER", "STATUS", "TIME"}, append(active, idle...))
}

func (b *Bot) handleApprove(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "approve")

	if !isAdmin(s, i.GuildID, interactionUser(i).ID) {
		respondWithError(s, i, "Only administrators can decide on remote attendance")
		return
	}

	opts := optionsByName(i.ApplicationCommandData().Options)
	recordID, err := uuid.Parse(strings.TrimSpace(opts["record"].StringValue()))
	if err != nil {
		respondWithError(s, i, "Invalid record ID")
		return
	}
	decision := models.ApprovalStatus(opts["decision"].StringValue())

	rec, err := b.hub.Decide(ctx, recordID, decision)
	if err != nil {
		respondWithAttendanceError(s, i, "approve", err)
		return
	}

	worker, err := b.db.GetWorkerByID(ctx, rec.WorkerID)
	name := rec.WorkerID.String()
	if err == nil && worker != nil {
		name = worker.Username
	}
	respondWithSuccess(s, i, fmt.Sprintf("Remote attendance of %s on %s marked %s",
		name, rec.WorkDate.Format("2006-01-02"), rec.ApprovalStatus))
}

func (b *Bot) handleTimezone(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "timezone")

	timezone := i.ApplicationCommandData().Options[0].StringValue()

	// Validate timezone
	if _, err := time.LoadLocation(timezone); err != nil {
		respondWithError(s, i, "Invalid timezone. Please use a valid timezone like 'Asia/Jakarta' or 'Europe/London'")
		return
	}

	worker, err := b.getWorkerFromInteraction(ctx, s, i)
	if err != nil {
		return
	}

	updated, err := b.db.UpdateWorkerTimezone(ctx, worker.ID, timezone)
	if err != nil {
		respondWithError(s, i, "Error updating timezone: "+err.Error())
		return
	}
	if t := b.hub.Tracker(updated.ID); t != nil {
		t.SetWorker(updated)
	}

	respondWithSuccess(s, i, fmt.Sprintf("Timezone updated to %s", timezone))
}

func (b *Bot) handleGoal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "goal")

	hours := i.ApplicationCommandData().Options[0].FloatValue()
	goal, err := goalFromHours(hours)
	if err != nil {
		respondWithError(s, i, err.Error())
		return
	}

	worker, err := b.getWorkerFromInteraction(ctx, s, i)
	if err != nil {
		return
	}

	updated, err := b.db.UpdateWorkerGoal(ctx, worker.ID, goal)
	if err != nil {
		respondWithError(s, i, "Error updating goal: "+err.Error())
		return
	}
	if t := b.hub.Tracker(updated.ID); t != nil {
		t.SetWorker(updated)
	}

	respondWithSuccess(s, i, fmt.Sprintf("Daily goal set to %s", formatDuration(goal)))
}

// goalFromHours converts a /goal value to a whole-minute duration.
func goalFromHours(hours float64) (time.Duration, error) {
	if hours < minGoalHours || hours > 24 {
		return 0, fmt.Errorf("daily goal must be between %.1f and 24 hours", minGoalHours)
	}
	return time.Duration(hours * float64(time.Hour)).Round(time.Minute), nil
}

func (b *Bot) handleOffice(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "office")

	if !isAdmin(s, i.GuildID, interactionUser(i).ID) {
		respondWithError(s, i, "Only administrators can manage offices")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	opts := optionsByName(sub.Options)

	user := opts["user"].UserValue(s)
	if user == nil {
		respondWithError(s, i, "Unknown user")
		return
	}
	worker, err := b.db.GetOrCreateWorker(ctx, user.ID, user.Username, b.config.Attendance.DefaultDailyGoal)
	if err != nil {
		respondWithError(s, i, "Error getting worker: "+err.Error())
		return
	}

	var officeID *uuid.UUID
	message := fmt.Sprintf("Office geofence removed for %s", worker.Username)

	if sub.Name == "set" {
		office := &models.Office{
			ID:           uuid.New(),
			Name:         opts["name"].StringValue(),
			Latitude:     opts["latitude"].FloatValue(),
			Longitude:    opts["longitude"].FloatValue(),
			RadiusMeters: opts["radius"].FloatValue(),
			CreatedAt:    time.Now(),
		}
		if err := validateOffice(office); err != nil {
			respondWithError(s, i, err.Error())
			return
		}
		if err := b.db.CreateOffice(ctx, office); err != nil {
			respondWithError(s, i, "Error creating office: "+err.Error())
			return
		}
		officeID = &office.ID
		message = fmt.Sprintf("%s assigned to %s (%.6f, %.6f, radius %.0fm)",
			worker.Username, office.Name, office.Latitude, office.Longitude, office.RadiusMeters)
	}

	updated, err := b.db.AssignOffice(ctx, worker.ID, officeID)
	if err != nil {
		respondWithError(s, i, "Error assigning office: "+err.Error())
		return
	}
	if t := b.hub.Tracker(updated.ID); t != nil {
		t.SetWorker(updated)
	}

	respondWithSuccess(s, i, message)
}

func validateOffice(o *models.Office) error {
	switch {
	case strings.TrimSpace(o.Name) == "":
		return fmt.Errorf("office name is required")
	case o.Latitude < -90 || o.Latitude > 90:
		return fmt.Errorf("latitude must be between -90 and 90")
	case o.Longitude < -180 || o.Longitude > 180:
		return fmt.Errorf("longitude must be between -180 and 180")
	case o.RadiusMeters <= 0:
		return fmt.Errorf("radius must be positive")
	}
	return nil
}
