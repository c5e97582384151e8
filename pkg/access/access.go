// Package access answers the per-list permission questions: may a participant
// join, is a participant the owner, and the compound remove-and-ban of a
// member. Decisions are evaluated fresh against the store on every call,
// never cached.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

var (
	ErrBanned   = errors.New("banned from list")
	ErrNotOwner = errors.New("not the list owner")
)

type Guard struct {
	store *store.Store
}

func NewGuard(st *store.Store) *Guard {
	return &Guard{store: st}
}

// CanJoin reports whether the participant may join the list. The ban check
// runs first: a banned participant is denied even when the list no longer
// exists. A missing list is store.ErrNotFound.
func (g *Guard) CanJoin(ctx context.Context, listID, userID string) error {
	banned, err := g.store.IsBanned(ctx, listID, userID)
	if err != nil {
		return fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return ErrBanned
	}
	if _, err := g.store.GetList(ctx, listID); err != nil {
		return err
	}
	return nil
}

// RequireOwner fails with ErrNotOwner unless the participant owns the list.
// Ownership never changes after creation, but the check still runs per
// request.
func (g *Guard) RequireOwner(ctx context.Context, listID, userID string) error {
	owner, err := g.store.IsOwner(ctx, listID, userID)
	if err != nil {
		return err
	}
	if !owner {
		return ErrNotOwner
	}
	return nil
}

// RemoveMember deletes the membership row then records the ban. Both steps
// run even when the membership was already gone, so repeating the operation
// is harmless. Broadcasting the removal is the caller's job.
func (g *Guard) RemoveMember(ctx context.Context, listID, userID string) error {
	if err := g.store.DeleteMember(ctx, listID, userID); err != nil {
		return err
	}
	if err := g.store.InsertBan(ctx, listID, userID); err != nil {
		return err
	}
	return nil
}
