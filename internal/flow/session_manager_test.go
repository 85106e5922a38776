package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/BTreeMap/Secretario/internal/models"
)

func TestInMemorySessionManager_GetUnknownUser(t *testing.T) {
	m := NewInMemorySessionManager()
	s, err := m.Get(context.Background(), "tg:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.UserID != "tg:1" || s.Language.IsSet() || s.AwaitingToken || s.HasToken() {
		t.Errorf("unexpected fresh session: %+v", s)
	}
	if m.Count() != 0 {
		t.Errorf("Get() must not store sessions, Count() = %d", m.Count())
	}
}

func TestInMemorySessionManager_UpdateIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	m := NewInMemorySessionManager()
	if _, err := m.Update(ctx, "tg:1", func(s *models.Session) { s.Language = models.LanguageES }); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Update(ctx, "tg:2", func(s *models.Session) { s.AwaitingToken = true }); err != nil {
		t.Fatal(err)
	}

	a, _ := m.Get(ctx, "tg:1")
	b, _ := m.Get(ctx, "tg:2")
	if a.Language != models.LanguageES || a.AwaitingToken {
		t.Errorf("tg:1 session = %+v", a)
	}
	if b.Language.IsSet() || !b.AwaitingToken {
		t.Errorf("tg:2 session = %+v", b)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestInMemorySessionManager_EmptyUserID(t *testing.T) {
	m := NewInMemorySessionManager()
	if _, err := m.Get(context.Background(), " "); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := m.Update(context.Background(), "", func(*models.Session) {}); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("Update() error = %v", err)
	}
}

func TestInMemorySessionManager_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewInMemorySessionManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("tg:%d", i%5)
			_, _ = m.Update(ctx, id, func(s *models.Session) { s.SelectedProject = id })
		}(i)
	}
	wg.Wait()
	if m.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", m.Count())
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("tg:%d", i)
		s, _ := m.Get(ctx, id)
		if s.SelectedProject != id {
			t.Errorf("session %s project = %q", id, s.SelectedProject)
		}
	}
}
