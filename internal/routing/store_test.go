package routing

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

func newTestStore() *Store {
	logger := zerolog.Nop()
	s := NewStore(&logger)
	s.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}
	return s
}

func validTable() domain.RoutingTable {
	return domain.RoutingTable{
		{Hostname: "localhost", Path: "", Targets: []domain.Target{{Type: domain.TargetForward, URL: "http://origin:8080"}}},
	}
}

func TestStoreSetThenGet(t *testing.T) {
	s := newTestStore()
	table := validTable()
	if err := s.Set(table); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.Get(); !reflect.DeepEqual(got, table) {
		t.Fatalf("get after set mismatch: %+v", got)
	}
}

func TestStoreRejectsInvalidAndKeepsCurrent(t *testing.T) {
	s := newTestStore()
	if err := s.Set(validTable()); err != nil {
		t.Fatalf("set: %v", err)
	}
	invalid := domain.RoutingTable{{Hostname: ""}}
	err := s.Set(invalid)
	if err == nil {
		t.Fatalf("expected invalid table rejection")
	}
	if !domain.IsKind(err, domain.KindInvalidRoutingTable) {
		t.Fatalf("expected InvalidRoutingTable kind, got %v", err)
	}
	if got := s.Get(); len(got) != 1 || got[0].Hostname != "localhost" {
		t.Fatalf("snapshot must be unchanged after rejection, got %+v", got)
	}
}

func TestStoreGetBeforeSetIsEmpty(t *testing.T) {
	s := newTestStore()
	if got := s.Get(); len(got) != 0 {
		t.Fatalf("expected empty table, got %+v", got)
	}
}

func TestStoreSubscribeDeliversCurrentAndUpdates(t *testing.T) {
	s := newTestStore()
	if err := s.Set(validTable()); err != nil {
		t.Fatalf("set: %v", err)
	}
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	select {
	case table := <-ch:
		if len(table) != 1 {
			t.Fatalf("expected current snapshot on subscribe, got %+v", table)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot delivered on subscribe")
	}

	next := validTable()
	next = append(next, domain.Route{Hostname: "other", Targets: []domain.Target{{Type: domain.TargetStatic, Directory: "./public"}}})
	if err := s.Set(next); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case table := <-ch:
		if len(table) != 2 {
			t.Fatalf("expected updated snapshot, got %+v", table)
		}
	case <-time.After(time.Second):
		t.Fatalf("update not delivered")
	}
}

func TestStoreRebroadcast(t *testing.T) {
	s := newTestStore()
	if err := s.Set(validTable()); err != nil {
		t.Fatalf("set: %v", err)
	}
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)
	<-ch

	s.Rebroadcast()
	select {
	case table := <-ch:
		if len(table) != 1 {
			t.Fatalf("expected current snapshot, got %+v", table)
		}
	case <-time.After(time.Second):
		t.Fatalf("rebroadcast not delivered")
	}
}

func TestStoreSlowSubscriberDoesNotBlockSet(t *testing.T) {
	s := newTestStore()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	// Never drain; repeated sets must coalesce instead of blocking.
	for i := 0; i < 32; i++ {
		if err := s.Set(validTable()); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					// A reader sees a complete table or an empty one, never a
					// partial state.
					table := s.Get()
					for _, r := range table {
						if len(r.Targets) == 0 {
							t.Errorf("observed route without targets")
							return
						}
					}
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if err := s.Set(validTable()); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
