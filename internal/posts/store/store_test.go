package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
)

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)

func TestMemoryCreateAssignsIDAndTime(t *testing.T) {
	m := NewMemory()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))

	p, err := m.Create(context.Background(), "user_a", "😀", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if !p.CreatedAt.Equal(at) || p.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", p.CreatedAt, at)
	}

	got, err := m.FindByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if *got != *p {
		t.Errorf("FindByID = %+v, want %+v", got, p)
	}
}

func TestMemoryCreateUniqueIDs(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Create(context.Background(), "u", "😀", time.Now())
		}()
	}
	wg.Wait()

	all, err := m.FindMany(context.Background(), Filter{}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 100 {
		t.Fatalf("stored %d posts, want 100", len(all))
	}
}

func TestMemoryFindManyOrdering(t *testing.T) {
	m := NewMemory()
	base := time.Unix(1000, 0).UTC()
	m.Insert(posts.Post{ID: "p1", AuthorID: "a", CreatedAt: base.Add(5 * time.Second)})
	m.Insert(posts.Post{ID: "p2", AuthorID: "b", CreatedAt: base.Add(10 * time.Second)})
	m.Insert(posts.Post{ID: "p3", AuthorID: "a", CreatedAt: base.Add(10 * time.Second)})
	m.Insert(posts.Post{ID: "p4", AuthorID: "a", CreatedAt: base})

	all, err := m.FindMany(context.Background(), Filter{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"p3", "p2", "p1", "p4"}
	if got := ids(all); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}

	for i := 0; i < 5; i++ {
		again, _ := m.FindMany(context.Background(), Filter{}, 100)
		if strings.Join(ids(again), ",") != strings.Join(want, ",") {
			t.Fatalf("order not stable across calls: %v", ids(again))
		}
	}
}

func TestMemoryFindManyFilterAndLimit(t *testing.T) {
	m := NewMemory()
	base := time.Unix(1000, 0).UTC()
	for i := 0; i < 150; i++ {
		author := "a"
		if i%3 == 0 {
			author = "b"
		}
		m.Insert(posts.Post{ID: fmt.Sprintf("p%03d", i), AuthorID: author, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	all, _ := m.FindMany(context.Background(), Filter{}, posts.PageSize)
	if len(all) != posts.PageSize {
		t.Errorf("len = %d, want %d", len(all), posts.PageSize)
	}

	byB, _ := m.FindMany(context.Background(), Filter{AuthorID: "b"}, posts.PageSize)
	if len(byB) != 50 {
		t.Errorf("author b posts = %d, want 50", len(byB))
	}
	for _, p := range byB {
		if p.AuthorID != "b" {
			t.Fatalf("filter leaked post by %s", p.AuthorID)
		}
	}

	none, err := m.FindMany(context.Background(), Filter{AuthorID: "nobody"}, posts.PageSize)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v, %v", none, err)
	}
}

func TestMemoryFindByIDNotFound(t *testing.T) {
	_, err := NewMemory().FindByID(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().FindMany(ctx, Filter{}, 10)
	if !errors.Is(err, apperrors.ErrStoreUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected store unavailable wrapping context.Canceled, got %v", err)
	}
}

func TestFindManyQuery(t *testing.T) {
	q, args := findManyQuery(Filter{}, 100)
	if strings.Contains(q, "WHERE") {
		t.Errorf("unfiltered query has WHERE: %s", q)
	}
	if !strings.HasSuffix(q, "ORDER BY created_at DESC, id DESC LIMIT $1") || len(args) != 1 || args[0] != 100 {
		t.Errorf("unexpected query %q args %v", q, args)
	}

	q, args = findManyQuery(Filter{AuthorID: "user_a"}, 100)
	if !strings.Contains(q, "WHERE author_id = $1") || !strings.HasSuffix(q, "LIMIT $2") {
		t.Errorf("unexpected filtered query %q", q)
	}
	if len(args) != 2 || args[0] != "user_a" || args[1] != 100 {
		t.Errorf("unexpected args %v", args)
	}
}

func ids(ps []posts.Post) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
