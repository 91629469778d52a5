package app

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"folio/api/internal/document"
	"folio/api/internal/store"
)

func metaPatch(title, slug string) *document.MetaUpdate {
	patch := &document.MetaUpdate{Title: &title}
	if slug != "" {
		patch.Slug = &slug
	}
	return patch
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Senior Engineer", "senior-engineer"},
		{"  Senior   Engineer  ", "senior-engineer"},
		{"Frontend / Backend (2024)", "frontend-backend-2024"},
		{"C++ & Go!", "c-go"},
		{"---", ""},
		{"", ""},
		{"Déjà Vu", "d-j-vu"},
		{"already-a-slug", "already-a-slug"},
	}

	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInsertWithSlugWalksSuffixes(t *testing.T) {
	taken := map[string]bool{"senior-engineer": true, "senior-engineer-2": true}
	fs := &fakeStore{
		slugExistsFn: func(_ context.Context, _, slug string) (bool, error) {
			return taken[slug], nil
		},
	}
	svc := newTestService(fs)

	id, slug, err := svc.insertWithSlug(context.Background(), store.DocumentRecord{Owner: "avery"}, "senior-engineer")
	if err != nil {
		t.Fatalf("insertWithSlug() error = %v", err)
	}
	if id != "doc-1" || slug != "senior-engineer-3" {
		t.Fatalf("expected senior-engineer-3, got id=%q slug=%q", id, slug)
	}
}

func TestInsertWithSlugTreatsConstraintAsAuthoritative(t *testing.T) {
	// The probe says free, but a concurrent create wins the race; the
	// unique violation pushes the walk to the next candidate.
	attempts := 0
	fs := &fakeStore{
		insertDocumentFn: func(_ context.Context, rec store.DocumentRecord) (string, error) {
			attempts++
			if rec.Slug == "cv" {
				return "", store.ErrSlugTaken
			}
			return "doc-9", nil
		},
	}
	svc := newTestService(fs)

	_, slug, err := svc.insertWithSlug(context.Background(), store.DocumentRecord{Owner: "avery"}, "cv")
	if err != nil {
		t.Fatalf("insertWithSlug() error = %v", err)
	}
	if slug != "cv-2" || attempts != 2 {
		t.Fatalf("expected cv-2 on second attempt, got %q after %d attempts", slug, attempts)
	}
}

func TestInsertWithSlugTimestampFallback(t *testing.T) {
	fs := &fakeStore{
		slugExistsFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	_, slug, err := svc.insertWithSlug(context.Background(), store.DocumentRecord{Owner: "avery"}, "cv")
	if err != nil {
		t.Fatalf("insertWithSlug() error = %v", err)
	}
	if !strings.HasPrefix(slug, "cv-") {
		t.Fatalf("fallback slug must keep the base, got %q", slug)
	}
	suffix := strings.TrimPrefix(slug, "cv-")
	if _, err := strconv.ParseInt(suffix, 10, 64); err != nil {
		t.Fatalf("fallback suffix must be a timestamp, got %q", suffix)
	}
}

func TestCreateUsesExplicitSlugOverTitle(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	title := "Senior Engineer"
	slug := "my-cv"
	if _, err := svc.Apply(context.Background(), id, MutationInput{
		Op:   "updateMeta",
		Meta: metaPatch(title, slug),
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if state.Document.Meta.Slug != "my-cv" {
		t.Fatalf("explicit slug must win, got %q", state.Document.Meta.Slug)
	}
}

func TestCreateFallsBackToUntitled(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	title := "!!!"
	if _, err := svc.Apply(context.Background(), id, MutationInput{
		Op:   "updateMeta",
		Meta: metaPatch(title, ""),
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if state.Document.Meta.Slug != "untitled" {
		t.Fatalf("expected untitled placeholder, got %q", state.Document.Meta.Slug)
	}
}
