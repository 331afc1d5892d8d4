package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

func (b *Bot) handleReport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	logCommand(s, i, "report")

	period := i.ApplicationCommandData().Options[0].StringValue()

	loc, err := time.LoadLocation(b.config.Attendance.DefaultTimezone)
	if err != nil {
		respondWithError(s, i, "Error loading default timezone: "+err.Error())
		return
	}

	now := time.Now()
	from, to, err := periodRange(period, now.In(loc))
	if err != nil {
		respondWithError(s, i, err.Error())
		return
	}

	records, err := b.db.ListRecordsBetween(ctx, from, to)
	if err != nil {
		respondWithError(s, i, "Error retrieving attendance history: "+err.Error())
		return
	}

	workers, err := b.db.ListWorkers(ctx)
	if err != nil {
		respondWithError(s, i, "Error retrieving workers: "+err.Error())
		return
	}

	var response strings.Builder
	response.WriteString(fmt.Sprintf("# Attendance for %s (%s to %s)\n\n",
		period, from.Format("2006-01-02"), to.Format("2006-01-02")))
	response.WriteString(formatTable([]string{"USER", "DAYS", "REMOTE", "WORKED"}, reportRows(workers, records, now)))
	respondWithSuccess(s, i, response.String())
}

// periodRange returns the inclusive work-date range for a report period.
func periodRange(period string, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case "today":
		return today, today, nil
	case "week":
		return today.AddDate(0, 0, -6), today, nil
	case "month":
		return today.AddDate(0, 0, -29), today, nil
	case "last_month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("invalid time period %q", period)
	}
}

// reportRows aggregates worked time per worker. Rejected remote days count as
// attended but add no time.
func reportRows(workers []*models.Worker, records []*models.AttendanceRecord, now time.Time) [][]string {
	type totals struct {
		days   int
		remote int
		worked time.Duration
	}
	byWorker := make(map[uuid.UUID]*totals)
	for _, rec := range records {
		t := byWorker[rec.WorkerID]
		if t == nil {
			t = &totals{}
			byWorker[rec.WorkerID] = t
		}
		t.days++
		if rec.Mode == models.ModeRemote {
			t.remote++
		}
		t.worked += attendance.Derive(rec, now).Elapsed
	}

	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		t := byWorker[w.ID]
		if t == nil {
			rows = append(rows, []string{truncateString(w.Username, 20), "0", "0", "0s"})
			continue
		}
		rows = append(rows, []string{
			truncateString(w.Username, 20),
			fmt.Sprintf("%d", t.days),
			fmt.Sprintf("%d", t.remote),
			formatDuration(t.worked),
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}
