package bot

import (
	"fmt"
	"strings"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"
)

// describeState renders a worker's attendance for a command response.
func describeState(st attendance.State, w *models.Worker, now time.Time) string {
	var sb strings.Builder

	switch st.Status {
	case attendance.StatusIdle:
		sb.WriteString("Status: not clocked in")
		return sb.String()
	case attendance.StatusWorking:
		sb.WriteString("Status: working")
	case attendance.StatusPaused:
		sb.WriteString("Status: on break")
	case attendance.StatusCompleted:
		sb.WriteString("Status: shift completed")
	}

	rec := st.Record
	sb.WriteString(fmt.Sprintf(" (%s)\n", rec.Mode))
	sb.WriteString(fmt.Sprintf("Clocked in: %s\n", formatTime(rec.ClockIn, w.Timezone)))
	if rec.ClockOut != nil {
		sb.WriteString(fmt.Sprintf("Clocked out: %s\n", formatTime(*rec.ClockOut, w.Timezone)))
	}
	if rec.LastPauseStartedAt != nil {
		sb.WriteString(fmt.Sprintf("On break for: %s\n", formatDuration(now.Sub(*rec.LastPauseStartedAt))))
	}
	if rec.TotalPausedSeconds > 0 {
		sb.WriteString(fmt.Sprintf("Breaks: %s\n", formatDuration(rec.TotalPaused())))
	}

	goal := w.DailyGoal()
	if rec.TotalHours != nil {
		sb.WriteString(fmt.Sprintf("Worked: %.2fh\n", *rec.TotalHours))
	} else {
		sb.WriteString(fmt.Sprintf("Worked: %s of %s\n", formatDuration(st.Elapsed), formatDuration(goal)))
	}

	switch {
	case st.PendingApproval:
		sb.WriteString("Remote attendance is waiting for approval")
	case st.Rejected:
		sb.WriteString("Remote attendance was rejected; no time is counted")
	case rec.Mode == models.ModeRemote:
		sb.WriteString("Remote attendance approved")
	}
	return strings.TrimRight(sb.String(), "\n")
}
