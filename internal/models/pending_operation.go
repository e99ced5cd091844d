package models

import (
	"encoding/json"
	"strings"
	"time"
)

// PendingOperation is a mutation that could not reach the server. Body is a
// value snapshot so the entry survives restarts unchanged.
type PendingOperation struct {
	ID            int64           `json:"id"`
	URL           string          `json:"url"`
	Method        string          `json:"method"`
	Body          json.RawMessage `json:"body,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
}

func (op *PendingOperation) Feature() Feature {
	return FeatureForPath(op.URL)
}

type Feature string

const (
	FeatureTransactions Feature = "transactions"
	FeatureReminders    Feature = "reminders"
	FeatureUnknown      Feature = ""
)

func FeatureForPath(path string) Feature {
	switch {
	case strings.HasPrefix(path, "/api/transactions"):
		return FeatureTransactions
	case strings.HasPrefix(path, "/api/reminders"):
		return FeatureReminders
	}
	return FeatureUnknown
}

// SyncTag is the background-sync work item name for a feature.
func (f Feature) SyncTag() string {
	if f == FeatureUnknown {
		return ""
	}
	return "sync-" + string(f)
}

func FeatureForTag(tag string) Feature {
	switch tag {
	case FeatureTransactions.SyncTag():
		return FeatureTransactions
	case FeatureReminders.SyncTag():
		return FeatureReminders
	}
	return FeatureUnknown
}
