package memstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := NewRecord("1", "User's name is Jason")
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, rec.Namespace, rec.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Summary != "User's name is Jason" {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), Namespace("1"), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestSearchRanksOverlap(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, summary := range []string{
		"User's name is Jason",
		"User prefers tea over coffee",
		"User lives in Shenzhen",
	} {
		if err := store.Put(ctx, NewRecord("1", summary)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.Search(ctx, Namespace("1"), "what does the user like to drink, tea or coffee?", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Summary != "User prefers tea over coffee" {
		t.Errorf("best match = %q", recs[0].Summary)
	}
}

func TestSearchEmptyNamespace(t *testing.T) {
	store := openTestStore(t)
	recs, err := store.Search(context.Background(), Namespace("nobody"), "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len = %d, want 0", len(recs))
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Put(ctx, NewRecord("1", "User's name is Jason")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, NewRecord("2", "User's name is Maria")); err != nil {
		t.Fatal(err)
	}

	recs, err := store.Search(ctx, Namespace("2"), "name", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].Summary != "User's name is Maria" {
		t.Errorf("got %q from wrong namespace", recs[0].Summary)
	}
}

func TestTokenizeHan(t *testing.T) {
	tokens := tokenize("用户名字是Jason")
	if _, ok := tokens["jason"]; !ok {
		t.Error("missing latin token jason")
	}
	if _, ok := tokens["名"]; !ok {
		t.Error("missing han rune token")
	}
}
