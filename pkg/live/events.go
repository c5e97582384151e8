package live

import "github.com/BeagleDevfr/shopping-sync-backend/pkg/store"

// Client → server events.
const (
	EventJoinList   = "JOIN_LIST"
	EventAddItem    = "ADD_ITEM"
	EventToggleItem = "TOGGLE_ITEM"
	EventRemoveItem = "REMOVE_ITEM"
)

// Server → client events.
const (
	EventSnapshot      = "SNAPSHOT"
	EventJoinDenied    = "JOIN_DENIED"
	EventItemAdded     = "ITEM_ADDED"
	EventItemToggled   = "ITEM_TOGGLED"
	EventItemRemoved   = "ITEM_REMOVED"
	EventPresence      = "PRESENCE"
	EventMemberRemoved = "MEMBER_REMOVED"
)

// Denial reasons carried on JOIN_DENIED.
const (
	DenyBanned   = "BANNED"
	DenyNotFound = "NOT_FOUND"
)

// Participant identifies the requester behind an event. A non-empty ID is
// mandatory on operations that persist anything.
type Participant struct {
	ID     string `json:"id"`
	Pseudo string `json:"pseudo,omitempty"`
}

type SnapshotPayload struct {
	Items []store.Item `json:"items"`
}

type JoinDeniedPayload struct {
	Reason string `json:"reason"`
}

type ItemAddedPayload struct {
	Item store.Item `json:"item"`
}

type ItemToggledPayload struct {
	ItemID  string `json:"itemId"`
	Checked bool   `json:"checked"`
}

type ItemRemovedPayload struct {
	ItemID string `json:"itemId"`
}

type PresencePayload struct {
	Count int `json:"count"`
}

type MemberRemovedPayload struct {
	ListID string `json:"listId"`
	UserID string `json:"userId"`
}
