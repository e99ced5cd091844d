// Package localstore is the durable on-device store: three entity
// collections plus the pending-operation collection, keyed by int64.
package localstore

import (
	"context"
	"encoding/json"
	"time"
)

type Collection string

const (
	Transactions      Collection = "transactions"
	Reminders         Collection = "reminders"
	PendingOperations Collection = "pendingOperations"
	User              Collection = "user"
)

type Index string

const (
	ByDate   Index = "by-date"
	ByStatus Index = "by-status"
)

// CurrentUserKey is the fixed key of the cached current-user slot.
const CurrentUserKey int64 = 1

// Record is one stored value. Key 0 on Put asks the store to assign the next
// key of an auto-increment collection.
type Record struct {
	Key     int64
	Value   json.RawMessage
	Indexes map[Index]string
}

// Store is the persistent keyed record store. Reads never touch the network
// and writes are durable before they return. Every method fails with
// ErrStorageUnavailable when the underlying storage cannot be used.
type Store interface {
	Initialize(ctx context.Context) error
	Get(ctx context.Context, c Collection, key int64) (Record, error)
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	GetAllByIndex(ctx context.Context, c Collection, index Index, match string) ([]Record, error)
	Put(ctx context.Context, c Collection, rec Record) (int64, error)
	Delete(ctx context.Context, c Collection, key int64) error
	// AcquireLease takes or renews the named lease for holder until the given
	// time. It reports false while another holder's lease is unexpired. The
	// lease lives in the store, so it excludes every process sharing it.
	AcquireLease(ctx context.Context, name, holder string, now, until time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
	Close() error
}

type schema struct {
	table         string
	autoIncrement bool
	indexes       map[Index]string
}

var schemas = map[Collection]schema{
	Transactions: {
		table:         "transactions",
		autoIncrement: true,
		indexes:       map[Index]string{ByDate: "date"},
	},
	Reminders: {
		table:         "reminders",
		autoIncrement: true,
		indexes:       map[Index]string{ByDate: "due_date", ByStatus: "status"},
	},
	PendingOperations: {table: "pending_operations"},
	User:              {table: "user_slot"},
}

const dateKeyLayout = "2006-01-02T15:04:05.000000000Z"

// DateKey renders a time as a fixed-width, lexically ordered index value.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateKeyLayout)
}
