package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{keyPrefix: defaultStoreKeyPrefix}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "polar:thread:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "polar:thread:abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptyThread(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{keyPrefix: defaultStoreKeyPrefix}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrEmptyThreadID) {
		t.Fatalf("redisKey() error = %v, want ErrEmptyThreadID", err)
	}
}

func TestUpstashRedisStoreSaveSetsThreadKeyWithTTL(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithTTL(time.Minute),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	l := NewLog("thread-1", time.Now())
	if err := l.Append(contractx.UserTurn("oi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Save(context.Background(), l); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" {
		t.Fatalf("command[0] = %v, want SET", gotCommand[0])
	}
	if gotCommand[1] != "polar:thread:thread-1" {
		t.Fatalf("command[1] = %v, want polar:thread:thread-1", gotCommand[1])
	}
	if gotCommand[3] != "EX" {
		t.Fatalf("command[3] = %v, want EX", gotCommand[3])
	}
}

func TestUpstashRedisStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	seed := NewLog("thread-2", time.Now())
	if err := seed.Append(contractx.UserTurn("quero devolver um pedido")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	got, err := store.Load(context.Background(), "thread-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ThreadID != "thread-2" {
		t.Fatalf("ThreadID = %q", got.ThreadID)
	}
	if got.Len() != 1 || got.History[0].Content != "quero devolver um pedido" {
		t.Fatalf("unexpected history: %#v", got.History)
	}
}

func TestUpstashRedisStoreLoadMissingThread(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		fmt.Fprint(w, `{"result":null}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("Load() error = %v, want ErrThreadNotFound", err)
	}
}

func TestUpstashRedisStoreSurfacesRedisError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		fmt.Fprint(w, `{"error":"WRONGPASS invalid token"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "bad"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "thread-3"); err == nil {
		t.Fatal("Load() error = nil, want redis error")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Load(ctx, "t-1"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("Load() error = %v, want ErrThreadNotFound", err)
	}

	l := NewLog("t-1", time.Now())
	if err := l.Append(contractx.UserTurn("olá")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Save(ctx, l); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "t-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", got.Len())
	}

	// loaded log is a detached copy
	if err := got.Append(contractx.AssistantTurn("oi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	again, err := store.Load(ctx, "t-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if again.Len() != 1 {
		t.Fatalf("stored log mutated without Save: len=%d", again.Len())
	}

	if err := store.Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "t-1"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("Load() after delete error = %v, want ErrThreadNotFound", err)
	}
}

func TestMemoryStoreSaveRejectsInvalidLog(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilLog) {
		t.Fatalf("Save(nil) error = %v, want ErrNilLog", err)
	}
	if err := store.Save(context.Background(), NewLog(" ", time.Now())); !errors.Is(err, ErrEmptyThreadID) {
		t.Fatalf("Save() error = %v, want ErrEmptyThreadID", err)
	}
}
