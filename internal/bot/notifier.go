package bot

import (
	"context"
	"fmt"
	"log"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

// Notifier posts pending remote attendance to the approver channel.
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

func NewNotifier(session *discordgo.Session, channelID string) *Notifier {
	return &Notifier{session: session, channelID: channelID}
}

func (n *Notifier) NotifyPendingApproval(ctx context.Context, worker *models.Worker, rec *models.AttendanceRecord) error {
	if n.channelID == "" {
		log.Printf("No approver channel configured; record %s awaits approval", rec.ID)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.session.ChannelMessageSend(n.channelID, pendingApprovalMessage(worker, rec))
	if err != nil {
		return fmt.Errorf("error notifying approvers: %w", err)
	}
	return nil
}

func pendingApprovalMessage(worker *models.Worker, rec *models.AttendanceRecord) string {
	reason := "-"
	if rec.RemoteReason != nil {
		reason = *rec.RemoteReason
	}
	return fmt.Sprintf("**Remote attendance pending approval**\nWorker: %s\nDate: %s\nClocked in: %s\nReason: %s\nUse `/approve record:%s`",
		worker.Username,
		rec.WorkDate.Format("2006-01-02"),
		formatTime(rec.ClockIn, worker.Timezone),
		reason,
		rec.ID,
	)
}

var _ attendance.Notifier = (*Notifier)(nil)
