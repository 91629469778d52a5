// Package app ties the document model to its surroundings: it owns the
// editing sessions, runs the dirty/saving state machine with its debounced
// autosave, and reconciles documents against the backend store.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"folio/api/internal/config"
	"folio/api/internal/document"
	"folio/api/internal/history"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

// dataStore is what the sync engine needs from the backend.
type dataStore interface {
	InsertDocument(ctx context.Context, rec store.DocumentRecord) (string, error)
	SlugExists(ctx context.Context, owner, slug string) (bool, error)
	UpdateDocument(ctx context.Context, rec store.DocumentRecord) error
	ReplaceSections(ctx context.Context, documentID string, sections []store.SectionRecord, items []store.ItemRecord) error
	ReplaceBlocks(ctx context.Context, documentID string, blocks []store.BlockRecord) error
	InsertSection(ctx context.Context, rec store.SectionRecord) error
	InsertItem(ctx context.Context, rec store.ItemRecord) error
	InsertBlock(ctx context.Context, rec store.BlockRecord) error
	GetDocument(ctx context.Context, id string) (store.DocumentRecord, error)
	LoadSections(ctx context.Context, documentID string) ([]store.SectionRecord, error)
	LoadItems(ctx context.Context, documentID string) ([]store.ItemRecord, error)
	LoadBlocks(ctx context.Context, documentID string) ([]store.BlockRecord, error)
	ListDocuments(ctx context.Context, owner string) ([]store.DocumentRecord, error)
	DeleteDocument(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// DraftCache is the best-effort local snapshot store; nil disables it.
type DraftCache interface {
	Put(ctx context.Context, owner string, kind document.Kind, snap document.Snapshot) error
	Get(ctx context.Context, owner string, kind document.Kind) (*document.Snapshot, error)
}

// SnapshotArchive records saved snapshots for version history; nil
// disables it.
type SnapshotArchive interface {
	Record(documentID string, snapshot []byte, author string) error
	Versions(documentID string, limit int) ([]history.Version, error)
	SnapshotAt(documentID, hash string) ([]byte, error)
}

// searchIndex makes saved documents findable on the dashboard.
type searchIndex interface {
	IndexDocument(rec search.Record)
	DeleteDocument(id string)
	Search(q search.Query) search.Response
}

// ErrSaveInFlight reports a save request that was coalesced into an
// already-running round-trip rather than launched concurrently.
var ErrSaveInFlight = errors.New("save already in flight")

// editSession is one open builder tab: a live document plus its slice of
// the save state machine. All access goes through mu; there is exactly one
// writer per session (the request that holds the lock) and at most one
// sync round-trip in flight.
type editSession struct {
	id    string
	owner string

	mu      sync.Mutex
	doc     *document.Document
	gen     uint64 // bumped by every mutation; detects edits racing a save
	timer   *time.Timer
	saving  bool
	pending bool // depth-one queue for save requests during a round-trip
	notice  string
}

type Service struct {
	cfg     config.Config
	data    dataStore
	drafts  DraftCache
	archive SnapshotArchive
	index   searchIndex

	mu       sync.Mutex
	sessions map[string]*editSession
}

// New builds a Service. drafts, archive and index may be nil; the
// corresponding features degrade to no-ops.
func New(cfg config.Config, data dataStore, drafts DraftCache, archive SnapshotArchive, index searchIndex) *Service {
	return &Service{
		cfg:      cfg,
		data:     data,
		drafts:   drafts,
		archive:  archive,
		index:    index,
		sessions: make(map[string]*editSession),
	}
}

// State is the session view returned to the UI after every operation.
type State struct {
	SessionID   string            `json:"sessionId"`
	Document    document.Snapshot `json:"document"`
	Dirty       bool              `json:"dirty"`
	Saving      bool              `json:"saving"`
	LastSavedAt *time.Time        `json:"lastSavedAt,omitempty"`
	Notice      string            `json:"notice,omitempty"`
}

// OpenSession starts editing a document. Hydration order: draft cache,
// then remote load when documentID is given, then an empty default.
func (s *Service) OpenSession(ctx context.Context, owner string, kind document.Kind, documentID string) (State, error) {
	if kind != document.KindCV && kind != document.KindPortfolio {
		return State{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be cv or portfolio")
	}

	doc, err := s.hydrate(ctx, owner, kind, documentID)
	if err != nil {
		return State{}, err
	}

	session := &editSession{
		id:    util.NewID("ses"),
		owner: owner,
		doc:   doc,
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	if doc.Dirty {
		// A restored draft is unsynced work; schedule its flush instead of
		// waiting for the next edit.
		session.mu.Lock()
		s.armAutosaveLocked(session)
		session.mu.Unlock()
	}

	return s.stateOf(session), nil
}

func (s *Service) hydrate(ctx context.Context, owner string, kind document.Kind, documentID string) (*document.Document, error) {
	if s.drafts != nil && owner != "" {
		snap, err := s.drafts.Get(ctx, owner, kind)
		if err != nil {
			log.Printf("app: draft lookup failed, continuing without: %v", err)
		} else if snap != nil && (documentID == "" || snap.ID == documentID) {
			doc := document.FromSnapshot(*snap)
			// A restored draft is unsynced work by definition.
			doc.Dirty = true
			return doc, nil
		}
	}

	if documentID != "" {
		doc, err := s.loadRemote(ctx, owner, documentID)
		var derr *DomainError
		switch {
		case err == nil:
			return doc, nil
		case errors.As(err, &derr):
			return nil, err
		default:
			log.Printf("app: remote load of %s failed, starting empty: %v", documentID, err)
		}
	}

	return document.New(kind), nil
}

// CloseSession drops a session; unsaved changes stay in the draft cache.
func (s *Service) CloseSession(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if ok {
		session.mu.Lock()
		if session.timer != nil {
			session.timer.Stop()
		}
		session.mu.Unlock()
	}
}

func (s *Service) session(sessionID string) (*editSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "unknown session")
	}
	return session, nil
}

// GetState returns the current session view.
func (s *Service) GetState(sessionID string) (State, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return State{}, err
	}
	return s.stateOf(session), nil
}

func (s *Service) stateOf(session *editSession) State {
	session.mu.Lock()
	defer session.mu.Unlock()
	return s.stateOfLocked(session)
}

// stateOfLocked builds a State; caller holds session.mu.
func (s *Service) stateOfLocked(session *editSession) State {
	return State{
		SessionID:   session.id,
		Document:    session.doc.Snapshot(),
		Dirty:       session.doc.Dirty,
		Saving:      session.doc.Saving,
		LastSavedAt: session.doc.LastSavedAt,
		Notice:      session.notice,
	}
}

// Apply runs one mutation against the session's document, updates the
// draft cache in the same call, and (re)arms the autosave timer.
func (s *Service) Apply(ctx context.Context, sessionID string, m MutationInput) (State, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return State{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := applyMutation(session.doc, m); err != nil {
		return s.stateOfLocked(session), err
	}
	session.gen++
	s.writeDraftLocked(ctx, session)
	s.armAutosaveLocked(session)
	return s.stateOfLocked(session), nil
}

// Export returns the document's JSON snapshot.
func (s *Service) Export(sessionID string) ([]byte, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.doc.Export()
}

// Import replaces the session's document with a parsed snapshot. The
// imported content counts as an edit: it marks the document dirty and
// schedules an autosave.
func (s *Service) Import(ctx context.Context, sessionID string, raw []byte) (State, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return State{}, err
	}

	snap, err := document.ParseSnapshot(raw)
	if err != nil {
		return State{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if snap.Kind != session.doc.Kind {
		return s.stateOfLocked(session), domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "snapshot kind does not match this session")
	}

	doc := document.FromSnapshot(snap)
	// The remote identity of the session's document wins over whatever id
	// the snapshot carried: id assignment is one-way.
	doc.ID = session.doc.ID
	doc.Dirty = true
	doc.Meta.LastEditedAt = time.Now()
	session.doc = doc
	session.gen++
	s.writeDraftLocked(ctx, session)
	s.armAutosaveLocked(session)
	return s.stateOfLocked(session), nil
}

// ListDocuments returns the owner's saved documents, optionally filtered
// by a search query.
func (s *Service) ListDocuments(ctx context.Context, owner, kind, query string) (search.Response, error) {
	if owner == "" {
		return search.Response{}, domainError(http.StatusUnauthorized, "NO_SESSION", "an owner is required to list documents")
	}
	if query != "" && s.index != nil {
		return s.index.Search(search.Query{Owner: owner, Kind: kind, Text: query}), nil
	}

	records, err := s.data.ListDocuments(ctx, owner)
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.Record, 0, len(records))
	for _, rec := range records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		results = append(results, search.Record{
			ID:        rec.ID,
			Owner:     rec.Owner,
			Kind:      rec.Kind,
			Title:     rec.Title,
			Slug:      rec.Slug,
			Headline:  rec.Headline,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return search.Response{Results: results, Total: len(results)}, nil
}

// DeleteDocument removes a saved document after checking ownership, and
// drops it from the search index.
func (s *Service) DeleteDocument(ctx context.Context, owner, documentID string) error {
	if owner == "" {
		return domainError(http.StatusUnauthorized, "NO_SESSION", "an owner is required to delete documents")
	}
	rec, err := s.data.GetDocument(ctx, documentID)
	if err == store.ErrNotFound {
		return domainError(http.StatusNotFound, "NOT_FOUND", "unknown document")
	}
	if err != nil {
		return err
	}
	if rec.Owner != owner {
		return domainError(http.StatusForbidden, "FORBIDDEN", "this document belongs to someone else")
	}
	if err := s.data.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.index != nil {
		s.index.DeleteDocument(documentID)
	}
	return nil
}

// Versions lists the recorded history of a saved document.
func (s *Service) Versions(documentID string, limit int) ([]history.Version, error) {
	if s.archive == nil {
		return []history.Version{}, nil
	}
	return s.archive.Versions(documentID, limit)
}

// VersionSnapshot returns the snapshot recorded at a history commit.
func (s *Service) VersionSnapshot(documentID, hash string) ([]byte, error) {
	if s.archive == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "history is not enabled")
	}
	return s.archive.SnapshotAt(documentID, hash)
}

// Ping checks backend connectivity for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.data.Ping(ctx)
}

// writeDraftLocked pushes the current snapshot into the draft cache.
// Best-effort: failures are logged, never surfaced. Caller holds
// session.mu.
func (s *Service) writeDraftLocked(ctx context.Context, session *editSession) {
	if s.drafts == nil || session.owner == "" {
		return
	}
	if err := s.drafts.Put(ctx, session.owner, session.doc.Kind, session.doc.Snapshot()); err != nil {
		log.Printf("app: draft write failed: %v", err)
	}
}
