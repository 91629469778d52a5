package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/api/internal/config"
	"folio/api/internal/document"
	"folio/api/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	insertDocumentFn  func(context.Context, store.DocumentRecord) (string, error)
	slugExistsFn      func(context.Context, string, string) (bool, error)
	updateDocumentFn  func(context.Context, store.DocumentRecord) error
	replaceSectionsFn func(context.Context, string, []store.SectionRecord, []store.ItemRecord) error
	replaceBlocksFn   func(context.Context, string, []store.BlockRecord) error
	insertSectionFn   func(context.Context, store.SectionRecord) error
	insertItemFn      func(context.Context, store.ItemRecord) error
	insertBlockFn     func(context.Context, store.BlockRecord) error
	getDocumentFn     func(context.Context, string) (store.DocumentRecord, error)
	loadSectionsFn    func(context.Context, string) ([]store.SectionRecord, error)
	loadItemsFn       func(context.Context, string) ([]store.ItemRecord, error)
	loadBlocksFn      func(context.Context, string) ([]store.BlockRecord, error)
	listDocumentsFn   func(context.Context, string) ([]store.DocumentRecord, error)
	deleteDocumentFn  func(context.Context, string) error

	insertedDocs     []store.DocumentRecord
	insertedSections []store.SectionRecord
	insertedItems    []store.ItemRecord
	insertedBlocks   []store.BlockRecord
	updatedDocs      []store.DocumentRecord
}

func (f *fakeStore) InsertDocument(ctx context.Context, rec store.DocumentRecord) (string, error) {
	f.mu.Lock()
	f.insertedDocs = append(f.insertedDocs, rec)
	f.mu.Unlock()
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, rec)
	}
	return "doc-1", nil
}

func (f *fakeStore) SlugExists(ctx context.Context, owner, slug string) (bool, error) {
	if f.slugExistsFn != nil {
		return f.slugExistsFn(ctx, owner, slug)
	}
	return false, nil
}

func (f *fakeStore) UpdateDocument(ctx context.Context, rec store.DocumentRecord) error {
	f.mu.Lock()
	f.updatedDocs = append(f.updatedDocs, rec)
	f.mu.Unlock()
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, rec)
	}
	return nil
}

func (f *fakeStore) ReplaceSections(ctx context.Context, documentID string, sections []store.SectionRecord, items []store.ItemRecord) error {
	if f.replaceSectionsFn != nil {
		return f.replaceSectionsFn(ctx, documentID, sections, items)
	}
	return nil
}

func (f *fakeStore) ReplaceBlocks(ctx context.Context, documentID string, blocks []store.BlockRecord) error {
	if f.replaceBlocksFn != nil {
		return f.replaceBlocksFn(ctx, documentID, blocks)
	}
	return nil
}

func (f *fakeStore) InsertSection(ctx context.Context, rec store.SectionRecord) error {
	if f.insertSectionFn != nil {
		if err := f.insertSectionFn(ctx, rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.insertedSections = append(f.insertedSections, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) InsertItem(ctx context.Context, rec store.ItemRecord) error {
	if f.insertItemFn != nil {
		if err := f.insertItemFn(ctx, rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.insertedItems = append(f.insertedItems, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) InsertBlock(ctx context.Context, rec store.BlockRecord) error {
	if f.insertBlockFn != nil {
		if err := f.insertBlockFn(ctx, rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.insertedBlocks = append(f.insertedBlocks, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.DocumentRecord, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.DocumentRecord{}, store.ErrNotFound
}

func (f *fakeStore) LoadSections(ctx context.Context, documentID string) ([]store.SectionRecord, error) {
	if f.loadSectionsFn != nil {
		return f.loadSectionsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) LoadItems(ctx context.Context, documentID string) ([]store.ItemRecord, error) {
	if f.loadItemsFn != nil {
		return f.loadItemsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) LoadBlocks(ctx context.Context, documentID string) ([]store.BlockRecord, error) {
	if f.loadBlocksFn != nil {
		return f.loadBlocksFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, owner string) ([]store.DocumentRecord, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, owner)
	}
	return nil, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		// A long delay keeps the debounce timer out of these tests; the
		// autosave tests use their own service with a short one.
		cfg:      config.Config{AutosaveDelay: time.Minute},
		data:     fs,
		sessions: make(map[string]*editSession),
	}
}

func openCVSession(t *testing.T, svc *Service, owner string) string {
	t.Helper()
	state, err := svc.OpenSession(context.Background(), owner, document.KindCV, "")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	return state.SessionID
}

func TestOpenSessionRejectsUnknownKind(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.OpenSession(context.Background(), "avery", "resume", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
}

func TestOpenSessionStartsClean(t *testing.T) {
	svc := newTestService(&fakeStore{})

	state, err := svc.OpenSession(context.Background(), "avery", document.KindCV, "")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if state.Dirty || state.Saving || state.LastSavedAt != nil {
		t.Fatalf("new session must be clean: %+v", state)
	}
	if state.Document.Meta.Title != "Untitled CV" {
		t.Fatalf("unexpected default title %q", state.Document.Meta.Title)
	}
}

func TestApplyMarksDirty(t *testing.T) {
	svc := newTestService(&fakeStore{})
	id := openCVSession(t, svc, "avery")

	state, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "experience"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !state.Dirty {
		t.Fatalf("expected dirty after mutation")
	}
	if len(state.Document.Sections) != 1 {
		t.Fatalf("expected one section, got %d", len(state.Document.Sections))
	}
}

func TestApplyRejectsOpForWrongKind(t *testing.T) {
	svc := newTestService(&fakeStore{})
	id := openCVSession(t, svc, "avery")

	_, err := svc.Apply(context.Background(), id, MutationInput{Op: "addBlock", Type: "text"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for block op on cv, got %v", err)
	}
}

func TestManualSaveCreatesDocument(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	title := "Senior Engineer"
	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "updateMeta", Meta: &document.MetaUpdate{Title: &title}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "experience"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	expSection := state.Document.Sections[0].ID
	if _, err := svc.Apply(context.Background(), id, MutationInput{
		Op:        "addItem",
		SectionID: expSection,
		Fields:    map[string]any{"company": "Acme", "role": "Senior Engineer"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err = svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "skills"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	skillsSection := state.Document.Sections[1].ID
	for _, name := range []string{"Go", "Postgres", "Redis"} {
		if _, err := svc.Apply(context.Background(), id, MutationInput{
			Op:        "addItem",
			SectionID: skillsSection,
			Fields:    map[string]any{"name": name},
		}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	state, err = svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if state.Dirty || state.Saving {
		t.Fatalf("expected clean after save: %+v", state)
	}
	if state.LastSavedAt == nil {
		t.Fatalf("expected LastSavedAt set")
	}
	if state.Document.ID != "doc-1" {
		t.Fatalf("expected adopted remote id, got %q", state.Document.ID)
	}
	if state.Document.Meta.Slug != "senior-engineer" {
		t.Fatalf("expected derived slug senior-engineer, got %q", state.Document.Meta.Slug)
	}
	if len(fs.insertedDocs) != 1 || len(fs.insertedSections) != 2 || len(fs.insertedItems) != 4 {
		t.Fatalf("unexpected insert counts: docs=%d sections=%d items=%d",
			len(fs.insertedDocs), len(fs.insertedSections), len(fs.insertedItems))
	}
}

func TestSaveWithoutOwnerLeavesDirtyWithNotice(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "")

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "skills"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := svc.Save(context.Background(), id)
	if err == nil {
		t.Fatalf("expected save error without owner")
	}
	if !state.Dirty {
		t.Fatalf("failed save must leave the document dirty")
	}
	if state.Notice == "" {
		t.Fatalf("expected a user-facing notice")
	}
	if len(fs.insertedDocs) != 0 {
		t.Fatalf("no insert must happen without an owner")
	}
}

func TestSaveIsIdempotentWhenClean(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	state, err := svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if state.Dirty || len(fs.insertedDocs) != 0 {
		t.Fatalf("save of a clean document must be a no-op")
	}
}

func TestSecondSaveTakesUpdatePath(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "projects"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := svc.Save(context.Background(), id); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	replaceCalls := 0
	fs.replaceSectionsFn = func(_ context.Context, documentID string, sections []store.SectionRecord, _ []store.ItemRecord) error {
		replaceCalls++
		if documentID != "doc-1" {
			t.Fatalf("replace called with wrong document id %s", documentID)
		}
		if len(sections) != 1 {
			t.Fatalf("expected full section set, got %d", len(sections))
		}
		return nil
	}

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "toggleSection", SectionID: mustFirstSectionID(t, svc, id)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := svc.Save(context.Background(), id); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(fs.insertedDocs) != 1 {
		t.Fatalf("second save must not insert a new root")
	}
	if len(fs.updatedDocs) != 1 || replaceCalls != 1 {
		t.Fatalf("expected one update and one replace, got %d and %d", len(fs.updatedDocs), replaceCalls)
	}
}

func mustFirstSectionID(t *testing.T, svc *Service, sessionID string) string {
	t.Helper()
	state, err := svc.GetState(sessionID)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if len(state.Document.Sections) == 0 {
		t.Fatalf("no sections in session")
	}
	return state.Document.Sections[0].ID
}

func TestFailedUpdateKeepsDirtyAndModel(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "skills"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := svc.Save(context.Background(), id); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	fs.replaceSectionsFn = func(context.Context, string, []store.SectionRecord, []store.ItemRecord) error {
		return errors.New("connection reset")
	}
	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "languages"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := svc.Save(context.Background(), id)
	if err == nil {
		t.Fatalf("expected save failure")
	}
	if !state.Dirty {
		t.Fatalf("failed save must leave the document dirty")
	}
	if len(state.Document.Sections) != 2 {
		t.Fatalf("failed save must not touch the local model")
	}
	if !strings.Contains(state.Notice, "retried") {
		t.Fatalf("expected retry notice, got %q", state.Notice)
	}
}

func TestCreateSkipsFailingChildren(t *testing.T) {
	fs := &fakeStore{}
	fs.insertSectionFn = func(_ context.Context, rec store.SectionRecord) error {
		if rec.Type == "education" {
			return errors.New("insert failed")
		}
		return nil
	}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	state, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "experience"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	expSection := state.Document.Sections[0].ID
	if _, err := svc.Apply(context.Background(), id, MutationInput{
		Op: "addItem", SectionID: expSection,
		Fields: map[string]any{"company": "Acme", "role": "Engineer"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err = svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "education"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	eduSection := state.Document.Sections[1].ID
	if _, err := svc.Apply(context.Background(), id, MutationInput{
		Op: "addItem", SectionID: eduSection,
		Fields: map[string]any{"school": "MIT"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err = svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("save must succeed despite child failures: %v", err)
	}
	if state.Dirty {
		t.Fatalf("expected clean after create")
	}
	// The failed section and its item are skipped, not fatal.
	if len(fs.insertedSections) != 1 || len(fs.insertedItems) != 1 {
		t.Fatalf("expected 1 section and 1 item inserted, got %d and %d",
			len(fs.insertedSections), len(fs.insertedItems))
	}
}

func TestEditDuringSaveKeepsDirty(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	session, err := svc.session(id)
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "skills"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	// The racing edit lands while the round-trip is in flight.
	fs.insertDocumentFn = func(context.Context, store.DocumentRecord) (string, error) {
		session.mu.Lock()
		if err := applyMutation(session.doc, MutationInput{Op: "addSection", Type: "projects"}); err != nil {
			session.mu.Unlock()
			return "", err
		}
		session.gen++
		session.mu.Unlock()
		return "doc-1", nil
	}

	state, err := svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !state.Dirty {
		t.Fatalf("an edit racing the save must leave the document dirty")
	}
	if state.Document.ID != "doc-1" {
		t.Fatalf("remote id must still be adopted, got %q", state.Document.ID)
	}
}

func TestSlugEditedDuringSaveIsKept(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	id := openCVSession(t, svc, "avery")

	session, err := svc.session(id)
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}

	title := "Senior Engineer"
	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "updateMeta", Meta: &document.MetaUpdate{Title: &title}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	// A slug edit lands while the create round-trip is in flight; the
	// server-assigned slug must not clobber it.
	fs.insertDocumentFn = func(context.Context, store.DocumentRecord) (string, error) {
		session.mu.Lock()
		slug := "my-cv"
		if err := applyMutation(session.doc, MutationInput{Op: "updateMeta", Meta: &document.MetaUpdate{Slug: &slug}}); err != nil {
			session.mu.Unlock()
			return "", err
		}
		session.gen++
		session.mu.Unlock()
		return "doc-1", nil
	}

	state, err := svc.Save(context.Background(), id)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if state.Document.ID != "doc-1" {
		t.Fatalf("remote id must still be adopted, got %q", state.Document.ID)
	}
	if state.Document.Meta.Slug != "my-cv" {
		t.Fatalf("racing slug edit was clobbered, got %q", state.Document.Meta.Slug)
	}
	if !state.Dirty {
		t.Fatalf("the racing edit must leave the document dirty")
	}
}

func TestImportReplacesDocument(t *testing.T) {
	svc := newTestService(&fakeStore{})
	id := openCVSession(t, svc, "avery")

	raw := `{"kind":"cv","meta":{"title":"Imported"},"profileFields":{"fullName":"Sam"},"sections":[{"type":"skills","items":[{"fields":{"name":"Go"}}]}]}`
	state, err := svc.Import(context.Background(), id, []byte(raw))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if state.Document.Meta.Title != "Imported" || len(state.Document.Sections) != 1 {
		t.Fatalf("import did not replace the document: %+v", state.Document)
	}
	if !state.Dirty {
		t.Fatalf("imported content counts as an edit")
	}
}

func TestImportRejectsKindMismatch(t *testing.T) {
	svc := newTestService(&fakeStore{})
	id := openCVSession(t, svc, "avery")

	raw := `{"kind":"portfolio","meta":{"title":"Wrong"},"profileFields":{}}`
	_, err := svc.Import(context.Background(), id, []byte(raw))
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for kind mismatch, got %v", err)
	}
}

func TestExportRoundTripsThroughImport(t *testing.T) {
	svc := newTestService(&fakeStore{})
	id := openCVSession(t, svc, "avery")

	if _, err := svc.Apply(context.Background(), id, MutationInput{Op: "addSection", Type: "projects"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	payload, err := svc.Export(id)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	state, err := svc.Import(context.Background(), id, payload)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(state.Document.Sections) != 1 {
		t.Fatalf("round trip lost sections")
	}
}

func TestListDocumentsRequiresOwner(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.ListDocuments(context.Background(), "", "", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestListDocumentsFiltersByKind(t *testing.T) {
	fs := &fakeStore{
		listDocumentsFn: func(context.Context, string) ([]store.DocumentRecord, error) {
			return []store.DocumentRecord{
				{ID: "a", Kind: "cv", Title: "CV"},
				{ID: "b", Kind: "portfolio", Title: "Folio"},
			}, nil
		},
	}
	svc := newTestService(fs)

	response, err := svc.ListDocuments(context.Background(), "avery", "cv", "")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if response.Total != 1 || response.Results[0].ID != "a" {
		t.Fatalf("kind filter not applied: %+v", response)
	}
}

func TestOpenSessionChecksOwnership(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.DocumentRecord, error) {
			return store.DocumentRecord{ID: id, Owner: "avery", Kind: "cv", Title: "Avery CV", Slug: "avery-cv"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.OpenSession(context.Background(), "mallory", document.KindCV, "doc-avery")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 for foreign document, got %v", err)
	}

	state, err := svc.OpenSession(context.Background(), "avery", document.KindCV, "doc-avery")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if state.Document.ID != "doc-avery" || state.Document.Meta.Title != "Avery CV" {
		t.Fatalf("owner could not open their own document: %+v", state.Document)
	}
}

func TestDeleteDocumentChecksOwnership(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.DocumentRecord, error) {
			return store.DocumentRecord{ID: id, Owner: "avery"}, nil
		},
	}
	deleted := ""
	fs.deleteDocumentFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}
	svc := newTestService(fs)

	err := svc.DeleteDocument(context.Background(), "mallory", "doc-1")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 for foreign document, got %v", err)
	}
	if deleted != "" {
		t.Fatalf("foreign document must not be deleted")
	}

	if err := svc.DeleteDocument(context.Background(), "avery", "doc-1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if deleted != "doc-1" {
		t.Fatalf("expected doc-1 deleted, got %q", deleted)
	}
}

func TestDeleteDocumentUnknownIs404(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.DeleteDocument(context.Background(), "avery", "doc-missing")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.GetState("ses_missing")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}
