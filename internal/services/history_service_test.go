package services

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/Corphon/Lumina/internal/storage"
)

func TestPushRecent(t *testing.T) {
	eight := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	tests := []struct {
		name  string
		list  []string
		topic string
		want  []string
	}{
		{"empty", nil, "Tides", []string{"Tides"}},
		{"prepend", []string{"Moons"}, "Tides", []string{"Tides", "Moons"}},
		{"move to front", []string{"Moons", "Tides", "Stars"}, "Tides", []string{"Tides", "Moons", "Stars"}},
		{"case insensitive", []string{"Moons", "black holes"}, "Black Holes", []string{"Black Holes", "Moons"}},
		{"cap at eight", eight, "new", []string{"new", "a", "b", "c", "d", "e", "f", "g"}},
		{"existing keeps length", eight, "e", []string{"e", "a", "b", "c", "d", "f", "g", "h"}},
		{"blank ignored", []string{"Moons"}, "  ", []string{"Moons"}},
		{"trims", nil, "  Tides ", []string{"Tides"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PushRecent(tt.list, tt.topic, 8)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("PushRecent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPushRecentInvariants(t *testing.T) {
	var list []string
	for i := 0; i < 50; i++ {
		topic := fmt.Sprintf("Topic %d", i%11)
		if i%3 == 0 {
			topic = strings.ToUpper(topic)
		}
		before := len(list)
		existed := containsFold(list, topic)

		list = PushRecent(list, topic, 8)

		if len(list) > 8 {
			t.Fatalf("list grew past 8: %v", list)
		}
		if list[0] != topic {
			t.Fatalf("topic not at front: %v", list)
		}
		if existed && len(list) != before {
			t.Fatalf("resubmitting changed length %d -> %d", before, len(list))
		}
		seen := map[string]bool{}
		for _, v := range list {
			key := strings.ToLower(v)
			if seen[key] {
				t.Fatalf("duplicate %q in %v", v, list)
			}
			seen[key] = true
		}
	}
}

func TestPushRecentDoesNotMutateInput(t *testing.T) {
	list := []string{"a", "b"}
	_ = PushRecent(list, "b", 8)
	if !reflect.DeepEqual(list, []string{"a", "b"}) {
		t.Fatalf("input mutated: %v", list)
	}
}

func newTestHistory(t *testing.T) *HistoryService {
	t.Helper()
	files, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	store, err := storage.NewFileTopicStore(files)
	if err != nil {
		t.Fatalf("NewFileTopicStore: %v", err)
	}
	h := NewHistoryService(store, 8)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryServiceRecordAndList(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for _, topic := range []string{"Tides", "Moons", "tides"} {
		if _, err := h.Record(ctx, topic); err != nil {
			t.Fatalf("Record(%q): %v", topic, err)
		}
	}

	got, err := h.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"tides", "Moons"}) {
		t.Fatalf("List = %v", got)
	}

	if _, err := h.Record(ctx, ""); err == nil {
		t.Fatal("expected validation error for empty topic")
	}
}
