package events

import (
	"time"

	"github.com/honeynil/paisa-tracker/internal/models"
)

type ConnectivityChanged struct {
	Online bool
	At     time.Time
}

// SyncComplete tells open UI surfaces to invalidate and refetch a feature.
type SyncComplete struct {
	Feature models.Feature `json:"feature"`
	Synced  int            `json:"synced"`
}

// BackgroundSync is a platform wake-up for one tagged work item.
type BackgroundSync struct {
	Tag string `json:"tag"`
}

type ControllerChange struct {
	Version string
}
