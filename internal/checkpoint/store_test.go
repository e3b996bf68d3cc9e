package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/buddy-ai/buddy/internal/llm"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "threads.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleState(threadID string) *ThreadState {
	state := NewThreadState(threadID, "1")
	state.Append(NewMessage(llm.RoleUser, "what is the weather in Shenzhen?"))
	asst := NewMessage(llm.RoleAssistant, "")
	asst.ToolCalls = []llm.ToolCall{{
		ID:        "call-1",
		Name:      "get_weather_for_location",
		Arguments: map[string]any{"city": "Shenzhen"},
	}}
	state.Append(asst)
	state.LoopStep = 1
	state.ToolBudget = 15
	return state
}

// storeFactories covers every backend that can run without external
// services.
func storeFactories(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": func() Store {
			s, err := NewSQLiteStore(openTestDB(t))
			if err != nil {
				t.Fatal(err)
			}
			return s
		}(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			state := sampleState("thread-a")
			if err := store.Put(ctx, state); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := store.Get(ctx, "thread-a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.UserID != "1" {
				t.Errorf("UserID = %q, want 1", got.UserID)
			}
			if len(got.Messages) != 2 {
				t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
			}
			if got.LoopStep != 1 || got.ToolBudget != 15 {
				t.Errorf("counters = (%d, %d), want (1, 15)", got.LoopStep, got.ToolBudget)
			}
			calls := got.Messages[1].ToolCalls
			if len(calls) != 1 || calls[0].Name != "get_weather_for_location" {
				t.Fatalf("tool calls = %+v", calls)
			}
			if city, _ := calls[0].Arguments["city"].(string); city != "Shenzhen" {
				t.Errorf("city = %q, want Shenzhen", city)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			state := sampleState("thread-b")
			if err := store.Put(ctx, state); err != nil {
				t.Fatal(err)
			}
			state.Append(NewMessage(llm.RoleAssistant, "It is sunny."))
			if err := store.Put(ctx, state); err != nil {
				t.Fatal(err)
			}
			got, err := store.Get(ctx, "thread-b")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 3 {
				t.Errorf("len(Messages) = %d, want 3", len(got.Messages))
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, sampleState("thread-c")); err != nil {
				t.Fatal(err)
			}
			if err := store.Delete(ctx, "thread-c"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Get(ctx, "thread-c"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete = %v, want ErrNotFound", err)
			}
			// Deleting again is fine.
			if err := store.Delete(ctx, "thread-c"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestPendingApprovalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := sampleState("thread-d")
	state.Pending = &PendingApproval{
		Call:      state.Messages[1].ToolCalls[0],
		CallIndex: 0,
	}
	if err := store.Put(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "thread-d")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending == nil {
		t.Fatal("Pending lost in round trip")
	}
	if got.Pending.Call.Name != "get_weather_for_location" {
		t.Errorf("pending call = %q", got.Pending.Call.Name)
	}
}

func TestLastUserQuestion(t *testing.T) {
	state := NewThreadState("t", "1")
	if got := state.LastUserQuestion(); got != "" {
		t.Errorf("empty transcript: got %q", got)
	}
	state.Append(NewMessage(llm.RoleUser, "first"))
	state.Append(NewMessage(llm.RoleAssistant, "answer"))
	state.Append(NewMessage(llm.RoleUser, "second"))
	state.Append(NewMessage(llm.RoleAssistant, "answer"))
	if got := state.LastUserQuestion(); got != "second" {
		t.Errorf("LastUserQuestion = %q, want second", got)
	}
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("abc"); got != "buddy:thread:abc" {
		t.Errorf("redisKey = %q", got)
	}
}
