package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestAssetStorePutGetRelease(t *testing.T) {
	s := NewAssetStore(10, "")

	h, err := s.Put([]byte("RIFF...."), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(h.URL, DefaultAssetBaseURL+"/") {
		t.Fatalf("unexpected handle url %q", h.URL)
	}
	if h.Size != 8 || h.MediaType != "audio/wav" {
		t.Fatalf("unexpected handle %+v", h)
	}

	entry, ok := s.Get(h.ID)
	if !ok {
		t.Fatal("asset not found after Put")
	}
	if string(entry.Data) != "RIFF...." {
		t.Fatalf("unexpected data %q", entry.Data)
	}

	id, ok := s.IDFromURL(h.URL)
	if !ok || id != h.ID {
		t.Fatalf("IDFromURL(%q) = %q, %v", h.URL, id, ok)
	}

	if !s.ReleaseURL(h.URL) {
		t.Fatal("ReleaseURL returned false for live handle")
	}
	if s.Release(h.ID) {
		t.Fatal("second release should report missing")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestAssetStoreIgnoresForeignURLs(t *testing.T) {
	s := NewAssetStore(10, "/api/assets/")
	for _, u := range []string{"", "data:image/png;base64,AAA", "/api/assets/", "/api/assets/a/b", "/other/x"} {
		if s.ReleaseURL(u) {
			t.Fatalf("ReleaseURL(%q) should be false", u)
		}
	}
}

func TestAssetStoreEvictsOldestUnowned(t *testing.T) {
	s := NewAssetStore(5, "")
	first, _ := s.Put([]byte{1}, "audio/wav")
	for i := 0; i < 5; i++ {
		if _, err := s.Put([]byte{byte(i)}, "audio/wav"); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	if s.Len() > 5 {
		t.Fatalf("store exceeded capacity: %d", s.Len())
	}
	if _, ok := s.Get(first.ID); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestAssetStoreNeverEvictsOwnedEntries(t *testing.T) {
	s := NewAssetStore(4, "")
	loose, _ := s.Put([]byte{0}, "image/png")

	var owned []AssetHandle
	for i := 0; i < 3; i++ {
		h, err := s.PutOwned("run-a", []byte{byte(i)}, "audio/wav")
		if err != nil {
			t.Fatalf("PutOwned %d: %v", i, err)
		}
		owned = append(owned, h)
	}

	// the store is at capacity; only the unowned entry may make room
	extra, err := s.PutOwned("run-b", []byte{9}, "audio/wav")
	if err != nil {
		t.Fatalf("PutOwned with an evictable entry: %v", err)
	}
	if _, ok := s.Get(loose.ID); ok {
		t.Fatal("unowned entry should have been evicted first")
	}

	if _, err := s.PutOwned("run-b", []byte{10}, "audio/wav"); !errors.Is(err, ErrAssetStoreFull) {
		t.Fatalf("expected ErrAssetStoreFull, got %v", err)
	}
	if _, err := s.Put([]byte{11}, "audio/wav"); !errors.Is(err, ErrAssetStoreFull) {
		t.Fatalf("expected ErrAssetStoreFull for unowned put, got %v", err)
	}
	for _, h := range append(owned, extra) {
		if _, ok := s.Get(h.ID); !ok {
			t.Fatalf("owned handle %s was evicted", h.ID)
		}
	}

	if n := s.ReleaseOwner("run-a"); n != 3 {
		t.Fatalf("ReleaseOwner released %d, want 3", n)
	}
	if s.ReleaseOwner("") != 0 {
		t.Fatal("empty owner must not release anything")
	}
	if _, err := s.PutOwned("run-c", []byte{12}, "audio/wav"); err != nil {
		t.Fatalf("PutOwned after release: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
}
