// Package live is the realtime synchronization engine: the mutation pipeline
// that validates, persists and then broadcasts every change to a list, the
// per-connection event loop feeding it, and the presence cache derived from
// the hub's live registrations.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/access"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/room"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

// ErrValidation marks a request rejected before any persistence.
var ErrValidation = errors.New("validation failed")

const defaultListName = "Shared list"

// Pipeline runs every mutation through the same sequence: validate, check
// access, persist, publish. Persistence failures abort before publish; a
// publish failure never rolls persistence back, re-joining clients catch up
// from a snapshot.
type Pipeline struct {
	store *store.Store
	guard *access.Guard
	hub   *room.Hub
	lists *listCache
}

func NewPipeline(st *store.Store, guard *access.Guard, hub *room.Hub) *Pipeline {
	return &Pipeline{
		store: st,
		guard: guard,
		hub:   hub,
		lists: newListCache(st),
	}
}

// CreateList persists the list and its owner membership and returns the
// generated share code. A requester without an id is a validation failure,
// never a silently defaulted owner.
func (p *Pipeline) CreateList(ctx context.Context, name string, owner Participant) (*store.List, error) {
	owner.ID = strings.TrimSpace(owner.ID)
	if owner.ID == "" {
		return nil, fmt.Errorf("%w: missing requester id", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		name = defaultListName
	}
	return p.store.CreateList(ctx, name, owner.ID, owner.Pseudo)
}

// Join admits the connection to the list's room. Denials go to the requesting
// connection only; an admitted connection gets its private snapshot before
// the room hears a presence update.
func (p *Pipeline) Join(ctx context.Context, c *room.Client, listID string, user Participant) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return fmt.Errorf("%w: missing participant id", ErrValidation)
	}
	if err := p.guard.CanJoin(ctx, listID, user.ID); err != nil {
		switch {
		case errors.Is(err, access.ErrBanned):
			return c.Send(EventJoinDenied, JoinDeniedPayload{Reason: DenyBanned})
		case errors.Is(err, store.ErrNotFound):
			return c.Send(EventJoinDenied, JoinDeniedPayload{Reason: DenyNotFound})
		}
		return err
	}
	if err := p.store.UpsertMember(ctx, listID, user.ID, user.Pseudo); err != nil {
		return err
	}
	items, err := p.store.ListItems(ctx, listID, false)
	if err != nil {
		return err
	}
	p.hub.Join(c, listID)
	if err := c.Send(EventSnapshot, SnapshotPayload{Items: items}); err != nil {
		return err
	}
	p.publish(listID, EventPresence, PresencePayload{Count: p.hub.PresenceCount(listID)})
	return nil
}

// EnrollMember joins a participant durably without a live connection: the
// REST flavor of join. Same guard, same idempotent upsert, no watch
// registration and no snapshot.
func (p *Pipeline) EnrollMember(ctx context.Context, listID string, user Participant) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return fmt.Errorf("%w: missing participant id", ErrValidation)
	}
	if err := p.guard.CanJoin(ctx, listID, user.ID); err != nil {
		return err
	}
	return p.store.UpsertMember(ctx, listID, user.ID, user.Pseudo)
}

// AddItem persists the client-supplied item and broadcasts the persisted,
// normalized record. Item ids are unique across all lists; a collision is a
// persistence error.
func (p *Pipeline) AddItem(ctx context.Context, listID string, it store.Item) (store.Item, error) {
	if strings.TrimSpace(it.ID) == "" {
		return store.Item{}, fmt.Errorf("%w: missing item id", ErrValidation)
	}
	if strings.TrimSpace(it.Name) == "" {
		return store.Item{}, fmt.Errorf("%w: missing item name", ErrValidation)
	}
	persisted, err := p.store.InsertItem(ctx, listID, it)
	if err != nil {
		return store.Item{}, err
	}
	p.publish(listID, EventItemAdded, ItemAddedPayload{Item: persisted})
	return persisted, nil
}

// ToggleItem updates the checked flag. When no row matches the (item, list)
// pair the whole operation is a silent no-op: nothing is broadcast for state
// that was never recorded.
func (p *Pipeline) ToggleItem(ctx context.Context, listID, itemID string, checked bool) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: missing item id", ErrValidation)
	}
	matched, err := p.store.SetItemChecked(ctx, listID, itemID, checked)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}
	p.publish(listID, EventItemToggled, ItemToggledPayload{ItemID: itemID, Checked: checked})
	return nil
}

// RemoveItem deletes the item. Same contract as ToggleItem: no matched row,
// no broadcast.
func (p *Pipeline) RemoveItem(ctx context.Context, listID, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: missing item id", ErrValidation)
	}
	matched, err := p.store.DeleteItem(ctx, listID, itemID)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}
	p.publish(listID, EventItemRemoved, ItemRemovedPayload{ItemID: itemID})
	return nil
}

// RenameList is owner-only, checked fresh per request. Rename is not part of
// the live item stream; callers see the result on the HTTP response.
func (p *Pipeline) RenameList(ctx context.Context, listID, name string, requester Participant) error {
	requester.ID = strings.TrimSpace(requester.ID)
	if requester.ID == "" {
		return fmt.Errorf("%w: missing requester id", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: missing list name", ErrValidation)
	}
	if err := p.guard.RequireOwner(ctx, listID, requester.ID); err != nil {
		return err
	}
	if err := p.store.RenameList(ctx, listID, name); err != nil {
		return err
	}
	p.lists.invalidate(listID)
	return nil
}

// RemoveMember is the owner-only remove-and-ban. The removal is broadcast to
// the room after both rows are settled.
func (p *Pipeline) RemoveMember(ctx context.Context, listID, targetUserID string, requester Participant) error {
	requester.ID = strings.TrimSpace(requester.ID)
	if requester.ID == "" {
		return fmt.Errorf("%w: missing requester id", ErrValidation)
	}
	if strings.TrimSpace(targetUserID) == "" {
		return fmt.Errorf("%w: missing target user id", ErrValidation)
	}
	if err := p.guard.RequireOwner(ctx, listID, requester.ID); err != nil {
		return err
	}
	if err := p.guard.RemoveMember(ctx, listID, targetUserID); err != nil {
		return err
	}
	p.publish(listID, EventMemberRemoved, MemberRemovedPayload{
		ListID: store.NormalizeCode(listID),
		UserID: targetUserID,
	})
	return nil
}

// DeleteList is owner-only and cascades items, memberships and bans at the
// store. Watchers keep their registrations until they disconnect; further
// joins see NOT_FOUND.
func (p *Pipeline) DeleteList(ctx context.Context, listID string, requester Participant) error {
	requester.ID = strings.TrimSpace(requester.ID)
	if requester.ID == "" {
		return fmt.Errorf("%w: missing requester id", ErrValidation)
	}
	if err := p.guard.RequireOwner(ctx, listID, requester.ID); err != nil {
		return err
	}
	if err := p.store.DeleteList(ctx, listID); err != nil {
		return err
	}
	p.lists.invalidate(listID)
	return nil
}

// Presence is answered from the hub's live registrations, never from durable
// membership rows.
func (p *Pipeline) Presence(listID string) int {
	return p.hub.PresenceCount(listID)
}

// ListMeta returns cached list metadata, rebuilt from the store on demand.
func (p *Pipeline) ListMeta(ctx context.Context, listID string) (*store.List, error) {
	return p.lists.get(ctx, listID)
}

func (p *Pipeline) publish(listID, event string, payload any) {
	if err := p.hub.Publish(listID, event, payload); err != nil {
		// Persisted state is already ahead of broadcast state here; clients
		// recover via snapshot on re-join.
		slog.Error("failed to publish", "list", store.NormalizeCode(listID), "event", event, "err", err)
	}
}
