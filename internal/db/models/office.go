package models

import (
	"time"

	"github.com/google/uuid"
)

type Office struct {
	ID           uuid.UUID `db:"id"`
	Name         string    `db:"name"`
	Latitude     float64   `db:"latitude"`
	Longitude    float64   `db:"longitude"`
	RadiusMeters float64   `db:"radius_meters"`
	CreatedAt    time.Time `db:"created_at"`
}
