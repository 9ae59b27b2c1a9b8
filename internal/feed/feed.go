// Package feed carries live row-level change events between devices.
//
// The server side (Hub) accepts owner-scoped WebSocket subscriptions and
// broadcasts insert/update/delete events published by syncing devices.
// The client side (Subscriber) merges incoming events into the local
// store with the same last-write-wins rule as pulls, so feed delivery
// and pull merging can interleave in any order.
package feed

import (
	"github.com/daylist-app/daylist/internal/task"
)

// Event types.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Event is one row-level change. New is set on insert/update, Old on
// delete (only its ID and Owner are guaranteed to be populated).
type Event struct {
	Type  string     `json:"type"`
	Owner string     `json:"owner"`
	New   *task.Task `json:"new,omitempty"`
	Old   *task.Task `json:"old,omitempty"`
}

// TaskID returns the id of the affected task.
func (ev *Event) TaskID() string {
	switch {
	case ev.New != nil:
		return ev.New.ID
	case ev.Old != nil:
		return ev.Old.ID
	default:
		return ""
	}
}
