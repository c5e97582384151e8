package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite("file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

var shareCodePattern = regexp.MustCompile(`^[0-9A-Z]{7}$`)

func TestCreateListGeneratesShareCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l, err := s.CreateList(ctx, "  Groceries  ", "user1", "Ana")
	assert.Equal(t, nil, err)
	if !shareCodePattern.MatchString(l.ID) {
		t.Fatalf("unexpected share code %q", l.ID)
	}
	assert.Equal(t, "Groceries", l.Name)
	assert.Equal(t, "user1", l.OwnerID)

	// lookups are case-insensitive
	got, err := s.GetList(ctx, "  "+lower(l.ID)+" ")
	assert.Equal(t, nil, err)
	assert.Equal(t, l.ID, got.ID)

	// the creator is enrolled as the first member
	members, err := s.ListMembers(ctx, l.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(members))
	assert.Equal(t, "user1", members[0].UserID)
	assert.Equal(t, "Ana", members[0].Pseudo)
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if 'A' <= b[i] && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestGetListMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetList(context.Background(), "NOPE")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	in := Item{
		ID:       "i1",
		Name:     "  Milk ",
		Category: "dairy",
		AddedBy:  &AddedBy{ID: "user1", DisplayName: "Ana"},
	}
	persisted, err := s.InsertItem(ctx, l.ID, in)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Milk", persisted.Name)
	assert.Equal(t, false, persisted.Checked)
	assert.NotEqual(t, int64(0), persisted.UpdatedAt)

	items, err := s.ListItems(ctx, l.ID, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(items))
	assert.Equal(t, "i1", items[0].ID)
	assert.Equal(t, "dairy", items[0].Category)
	assert.NotEqual(t, nil, items[0].AddedBy)
	assert.Equal(t, "user1", items[0].AddedBy.ID)
	assert.Equal(t, "Ana", items[0].AddedBy.DisplayName)

	// item ids are unique across the whole item space
	_, err = s.InsertItem(ctx, l.ID, Item{ID: "i1", Name: "Bread"})
	assert.NotEqual(t, nil, err)
}

func TestAttributionDegradesWhenMalformed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	for i, raw := range []string{"{not json", `"just a string"`, `{"displayName":"no id"}`, "null"} {
		id := string(rune('a' + i))
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO items (id, list_id, name, checked, added_by, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			id, l.ID, "x", false, raw, int64(i),
		)
		assert.Equal(t, nil, err)
	}

	items, err := s.ListItems(ctx, l.ID, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, 4, len(items))
	for _, it := range items {
		if it.AddedBy != nil {
			t.Fatalf("expected no attribution for item %s, got %+v", it.ID, it.AddedBy)
		}
	}
}

func TestSnapshotOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.InsertItem(ctx, l.ID, Item{ID: id, Name: id})
		assert.Equal(t, nil, err)
	}

	asc, err := s.ListItems(ctx, l.ID, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(asc))

	desc, err := s.ListItems(ctx, l.ID, true)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(desc))
}

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestToggleAndRemoveReportMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)
	_, err = s.InsertItem(ctx, l.ID, Item{ID: "i1", Name: "Milk"})
	assert.Equal(t, nil, err)

	matched, err := s.SetItemChecked(ctx, l.ID, "i1", true)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, matched)

	matched, err = s.SetItemChecked(ctx, l.ID, "missing", true)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, matched)

	// wrong list, same item
	matched, err = s.SetItemChecked(ctx, "ZZZZZZZ", "i1", true)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, matched)

	matched, err = s.DeleteItem(ctx, l.ID, "i1")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, matched)

	matched, err = s.DeleteItem(ctx, l.ID, "i1")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, matched)
}

func TestUpsertMemberIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, s.UpsertMember(ctx, l.ID, "user2", "Bo"))
	assert.Equal(t, nil, s.UpsertMember(ctx, l.ID, "user2", "Bo"))

	members, err := s.ListMembers(ctx, l.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(members))
}

func TestBans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	banned, err := s.IsBanned(ctx, l.ID, "user2")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, banned)

	assert.Equal(t, nil, s.InsertBan(ctx, l.ID, "user2"))
	assert.Equal(t, nil, s.InsertBan(ctx, l.ID, "user2"))

	banned, err = s.IsBanned(ctx, l.ID, "user2")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, banned)
}

func TestDeleteListCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)
	_, err = s.InsertItem(ctx, l.ID, Item{ID: "i1", Name: "Milk"})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, s.UpsertMember(ctx, l.ID, "user2", ""))
	assert.Equal(t, nil, s.InsertBan(ctx, l.ID, "user3"))

	assert.Equal(t, nil, s.DeleteList(ctx, l.ID))

	_, err = s.GetList(ctx, l.ID)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	items, err := s.ListItems(ctx, l.ID, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(items))

	members, err := s.ListMembers(ctx, l.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(members))

	// the ban went with the list too
	banned, err := s.IsBanned(ctx, l.ID, "user3")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, banned)
}

func TestRenameList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, s.RenameList(ctx, l.ID, " Weekly shop "))
	got, err := s.GetList(ctx, l.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Weekly shop", got.Name)

	err = s.RenameList(ctx, "ZZZZZZZ", "x")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestIsOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l, err := s.CreateList(ctx, "g", "user1", "")
	assert.Equal(t, nil, err)

	owner, err := s.IsOwner(ctx, l.ID, "user1")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, owner)

	owner, err = s.IsOwner(ctx, l.ID, "user2")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, owner)

	_, err = s.IsOwner(ctx, "ZZZZZZZ", "user1")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}
