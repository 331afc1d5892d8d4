package models

import (
	"time"

	"github.com/google/uuid"
)

type Worker struct {
	ID               uuid.UUID  `db:"id"`
	DiscordID        string     `db:"discord_id"`
	Username         string     `db:"username"`
	Timezone         string     `db:"timezone"`
	DailyGoalSeconds int64      `db:"daily_goal_seconds"`
	OfficeID         *uuid.UUID `db:"office_id"`
	CreatedAt        time.Time  `db:"created_at"`
}

// DailyGoal is the worked time after which a shift auto-completes.
func (w *Worker) DailyGoal() time.Duration {
	return time.Duration(w.DailyGoalSeconds) * time.Second
}
