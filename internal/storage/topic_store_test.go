package storage

import (
	"context"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func prepend(topic string) func([]string) []string {
	return func(list []string) []string {
		return append([]string{topic}, list...)
	}
}

func newFileTopicStore(t *testing.T) (*FileTopicStore, *FileStorage) {
	t.Helper()
	files, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	store, err := NewFileTopicStore(files)
	if err != nil {
		t.Fatalf("NewFileTopicStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, files
}

func TestFileTopicStoreEmpty(t *testing.T) {
	store, _ := newFileTopicStore(t)
	topics, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if topics == nil || len(topics) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", topics)
	}
}

func TestFileTopicStoreUpdatePersists(t *testing.T) {
	store, files := newFileTopicStore(t)
	ctx := context.Background()

	if _, err := store.Update(ctx, prepend("Tides")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := store.Update(ctx, prepend("Black Holes"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []string{"Black Holes", "Tides"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Update returned %v, want %v", got, want)
	}

	// a second store over the same directory sees the same slot
	other, err := NewFileTopicStore(files)
	if err != nil {
		t.Fatalf("NewFileTopicStore: %v", err)
	}
	defer other.Close()
	loaded, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded, want) {
		t.Fatalf("Load returned %v, want %v", loaded, want)
	}

	raw, err := os.ReadFile(files.Path("history", HistoryKey+".json"))
	if err != nil {
		t.Fatalf("read slot: %v", err)
	}
	if !strings.Contains(string(raw), `"Black Holes"`) {
		t.Fatalf("slot is not a JSON array of topics: %s", raw)
	}
}

func TestFileTopicStoreCorruptSlot(t *testing.T) {
	store, files := newFileTopicStore(t)
	if err := files.SaveTextFile("history", HistoryKey+".json", []byte("{oops")); err != nil {
		t.Fatalf("SaveTextFile: %v", err)
	}
	topics, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(topics) != 0 {
		t.Fatalf("expected corrupt slot to read as empty, got %v", topics)
	}
}

func TestFileTopicStoreConcurrentUpdates(t *testing.T) {
	store, _ := newFileTopicStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Update(ctx, prepend(string(rune('a'+i)))); err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	topics, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(topics) != 10 {
		t.Fatalf("lost updates: got %d topics", len(topics))
	}
}

func TestRedisTopicStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	store, err := NewRedisTopicStore(RedisConfig{Addr: addr, Key: "lumina_history_test"})
	if err != nil {
		t.Fatalf("NewRedisTopicStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Update(ctx, func([]string) []string { return nil }); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := store.Update(ctx, prepend("Tides")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	topics, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(topics, []string{"Tides"}) {
		t.Fatalf("Load returned %v", topics)
	}
}

func TestNewRedisTopicStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisTopicStore(RedisConfig{}); err == nil {
		t.Fatal("expected error without address")
	}
}
