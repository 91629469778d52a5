package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"folio/api/internal/document"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

// performSave is the single entry point for a sync round-trip, whatever
// triggered it. It enforces the state machine: Dirty -> Saving -> Clean on
// success, back to Dirty on failure, never two round-trips at once. A save
// request landing while one is in flight parks in the pending slot and
// runs exactly once afterwards.
func (s *Service) performSave(ctx context.Context, session *editSession) error {
	for {
		session.mu.Lock()
		if !session.doc.Dirty {
			session.mu.Unlock()
			return nil
		}
		if session.saving {
			session.pending = true
			session.mu.Unlock()
			return ErrSaveInFlight
		}
		session.saving = true
		session.doc.Saving = true
		gen := session.gen
		snap := session.doc.Snapshot()
		owner := session.owner
		startSlug := snap.Meta.Slug
		session.mu.Unlock()

		// The round-trip runs outside the lock; the UI keeps mutating.
		saveErr := s.reconcile(ctx, owner, &snap)

		session.mu.Lock()
		session.saving = false
		session.doc.Saving = false
		if saveErr == nil {
			if session.doc.ID == "" && snap.ID != "" {
				session.doc.ID = snap.ID
				// Adopt the server-final slug only while no racing edit has
				// changed it locally.
				if session.gen == gen || session.doc.Meta.Slug == startSlug {
					session.doc.Meta.Slug = snap.Meta.Slug
				}
			}
			if session.gen == gen {
				session.doc.Dirty = false
				now := time.Now()
				session.doc.LastSavedAt = &now
			}
			// else: edits arrived mid-save; the document stays dirty and
			// the timer those edits armed covers the follow-up.
			session.notice = ""
			s.writeDraftLocked(ctx, session)
		} else {
			if derr, ok := saveErr.(*DomainError); ok {
				session.notice = derr.Message
			} else {
				session.notice = "Could not save your changes. They are kept locally and will be retried."
			}
			// Failed saves retry on the next autosave cycle.
			s.armAutosaveLocked(session)
		}
		rerun := session.pending
		session.pending = false
		session.mu.Unlock()

		if saveErr == nil {
			s.afterSave(owner, snap)
		} else {
			log.Printf("app: save session %s: %v", session.id, saveErr)
		}

		if !rerun {
			return saveErr
		}
	}
}

// reconcile writes one document snapshot to the backend, choosing the
// create or update path. On the create path it fills in snap.ID and the
// final slug.
func (s *Service) reconcile(ctx context.Context, owner string, snap *document.Snapshot) error {
	if owner == "" {
		return domainError(http.StatusUnauthorized, "NO_SESSION", "You need to be signed in to save. Your changes are kept locally.")
	}
	if snap.ID == "" {
		return s.createRemote(ctx, owner, snap)
	}
	return s.updateRemote(ctx, owner, snap)
}

// createRemote inserts the root record under a collision-free slug, then
// inserts children one by one. A child insert failure is logged and
// skipped: a partially populated document beats a fully failed create.
func (s *Service) createRemote(ctx context.Context, owner string, snap *document.Snapshot) error {
	base := snap.Meta.Slug
	if base == "" {
		base = slugify(snap.Meta.Title)
	}
	if base == "" {
		base = "untitled"
	}

	rec := rootRecord(owner, *snap)
	id, slug, err := s.insertWithSlug(ctx, rec, base)
	if err != nil {
		return err
	}
	snap.ID = id
	snap.Meta.Slug = slug

	if snap.Kind == document.KindCV {
		for _, section := range snap.Sections {
			sectionRec := sectionRecord(id, section)
			if err := s.data.InsertSection(ctx, sectionRec); err != nil {
				log.Printf("app: create %s: skipping section %s: %v", id, section.ID, err)
				continue
			}
			for _, item := range section.Items {
				itemRec, err := itemRecord(section.ID, item)
				if err != nil {
					log.Printf("app: create %s: skipping item %s: %v", id, item.ID, err)
					continue
				}
				if err := s.data.InsertItem(ctx, itemRec); err != nil {
					log.Printf("app: create %s: skipping item %s: %v", id, item.ID, err)
				}
			}
		}
	} else {
		for _, block := range snap.Blocks {
			blockRec, err := blockRecord(id, block)
			if err != nil {
				log.Printf("app: create %s: skipping block %s: %v", id, block.ID, err)
				continue
			}
			if err := s.data.InsertBlock(ctx, blockRec); err != nil {
				log.Printf("app: create %s: skipping block %s: %v", id, block.ID, err)
			}
		}
	}
	return nil
}

// maxSlugAttempts bounds the suffix walk before the timestamp fallback.
const maxSlugAttempts = 20

// insertWithSlug resolves the final slug and inserts the root record. The
// SlugExists probe is a fast path; the unique constraint on (owner, slug)
// is the authoritative signal, so a concurrent create that wins the race
// just pushes us to the next candidate.
func (s *Service) insertWithSlug(ctx context.Context, rec store.DocumentRecord, base string) (string, string, error) {
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", base, attempt+1)
		}

		exists, err := s.data.SlugExists(ctx, rec.Owner, candidate)
		if err != nil {
			return "", "", fmt.Errorf("probe slug %s: %w", candidate, err)
		}
		if exists {
			continue
		}

		rec.Slug = candidate
		id, err := s.data.InsertDocument(ctx, rec)
		if err == store.ErrSlugTaken {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create document: %w", err)
		}
		return id, candidate, nil
	}

	// Suffix space exhausted; fall back to a timestamped slug that is
	// unique within the clock's resolution.
	rec.Slug = fmt.Sprintf("%s-%d", base, time.Now().UnixMilli())
	id, err := s.data.InsertDocument(ctx, rec)
	if err != nil {
		return "", "", fmt.Errorf("create document with fallback slug: %w", err)
	}
	return id, rec.Slug, nil
}

// updateRemote replaces the root record's scalars, then full-replaces the
// child collection in one transaction. No diffing: document sizes are
// small and full-replace cannot drift from local state.
func (s *Service) updateRemote(ctx context.Context, owner string, snap *document.Snapshot) error {
	rec := rootRecord(owner, *snap)
	rec.ID = snap.ID
	if err := s.data.UpdateDocument(ctx, rec); err != nil {
		return fmt.Errorf("update document %s: %w", snap.ID, err)
	}

	if snap.Kind == document.KindCV {
		sections := make([]store.SectionRecord, 0, len(snap.Sections))
		var items []store.ItemRecord
		for _, section := range snap.Sections {
			sections = append(sections, sectionRecord(snap.ID, section))
			for _, item := range section.Items {
				itemRec, err := itemRecord(section.ID, item)
				if err != nil {
					return fmt.Errorf("encode item %s: %w", item.ID, err)
				}
				items = append(items, itemRec)
			}
		}
		if err := s.data.ReplaceSections(ctx, snap.ID, sections, items); err != nil {
			return fmt.Errorf("replace sections of %s: %w", snap.ID, err)
		}
		return nil
	}

	blocks := make([]store.BlockRecord, 0, len(snap.Blocks))
	for _, block := range snap.Blocks {
		blockRec, err := blockRecord(snap.ID, block)
		if err != nil {
			return fmt.Errorf("encode block %s: %w", block.ID, err)
		}
		blocks = append(blocks, blockRec)
	}
	if err := s.data.ReplaceBlocks(ctx, snap.ID, blocks); err != nil {
		return fmt.Errorf("replace blocks of %s: %w", snap.ID, err)
	}
	return nil
}

// afterSave fans out to the ambient services; none of them can fail the
// save.
func (s *Service) afterSave(owner string, snap document.Snapshot) {
	if s.index != nil {
		s.index.IndexDocument(search.Record{
			ID:        snap.ID,
			Owner:     owner,
			Kind:      string(snap.Kind),
			Title:     snap.Meta.Title,
			Slug:      snap.Meta.Slug,
			Headline:  snap.Profile.Headline,
			UpdatedAt: time.Now(),
		})
	}
	if s.archive != nil {
		payload, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			log.Printf("app: history snapshot encode for %s: %v", snap.ID, err)
			return
		}
		if err := s.archive.Record(snap.ID, append(payload, '\n'), owner); err != nil {
			log.Printf("app: history record for %s: %v", snap.ID, err)
		}
	}
}

// loadRemote hydrates a full document from the backend. Only the record's
// owner may open it.
func (s *Service) loadRemote(ctx context.Context, owner, id string) (*document.Document, error) {
	rec, err := s.data.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "this document belongs to someone else")
	}

	snap := document.Snapshot{
		ID:   rec.ID,
		Kind: document.Kind(rec.Kind),
		Meta: document.Meta{
			Title:        rec.Title,
			Slug:         rec.Slug,
			Layout:       rec.Layout,
			Public:       rec.Public,
			LastEditedAt: rec.UpdatedAt,
		},
		Profile: document.Profile{
			FullName:    rec.FullName,
			Headline:    rec.Headline,
			Email:       rec.Email,
			Phone:       rec.Phone,
			Location:    rec.Location,
			Website:     rec.Website,
			Summary:     rec.Summary,
			HeroTitle:   rec.HeroTitle,
			HeroTagline: rec.HeroTagline,
		},
	}

	if snap.Kind == document.KindCV {
		sectionRecs, err := s.data.LoadSections(ctx, id)
		if err != nil {
			return nil, err
		}
		itemRecs, err := s.data.LoadItems(ctx, id)
		if err != nil {
			return nil, err
		}
		itemsBySection := make(map[string][]document.Item)
		for _, itemRec := range itemRecs {
			var fields map[string]any
			if err := json.Unmarshal(itemRec.Fields, &fields); err != nil {
				log.Printf("app: load %s: dropping unreadable item %s: %v", id, itemRec.ID, err)
				continue
			}
			itemsBySection[itemRec.SectionID] = append(itemsBySection[itemRec.SectionID], document.Item{
				ID:     itemRec.ID,
				Order:  itemRec.SortOrder,
				Fields: fields,
			})
		}
		for _, sectionRec := range sectionRecs {
			snap.Sections = append(snap.Sections, document.Section{
				ID:      sectionRec.ID,
				Type:    document.SectionType(sectionRec.Type),
				Title:   sectionRec.Title,
				Order:   sectionRec.SortOrder,
				Visible: sectionRec.Visible,
				Items:   itemsBySection[sectionRec.ID],
			})
		}
	} else {
		blockRecs, err := s.data.LoadBlocks(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, blockRec := range blockRecs {
			content, err := document.DecodeBlockContent(document.BlockType(blockRec.Type), blockRec.Content)
			if err != nil {
				log.Printf("app: load %s: dropping unreadable block %s: %v", id, blockRec.ID, err)
				continue
			}
			snap.Blocks = append(snap.Blocks, document.Block{
				ID:      blockRec.ID,
				Type:    document.BlockType(blockRec.Type),
				Title:   blockRec.Title,
				Order:   blockRec.SortOrder,
				Visible: blockRec.Visible,
				Content: content,
			})
		}
	}

	return document.FromSnapshot(snap), nil
}

func rootRecord(owner string, snap document.Snapshot) store.DocumentRecord {
	return store.DocumentRecord{
		Owner:       owner,
		Kind:        string(snap.Kind),
		Title:       snap.Meta.Title,
		Slug:        snap.Meta.Slug,
		Layout:      snap.Meta.Layout,
		Public:      snap.Meta.Public,
		FullName:    snap.Profile.FullName,
		Headline:    snap.Profile.Headline,
		Email:       snap.Profile.Email,
		Phone:       snap.Profile.Phone,
		Location:    snap.Profile.Location,
		Website:     snap.Profile.Website,
		Summary:     snap.Profile.Summary,
		HeroTitle:   snap.Profile.HeroTitle,
		HeroTagline: snap.Profile.HeroTagline,
	}
}

func sectionRecord(documentID string, section document.Section) store.SectionRecord {
	return store.SectionRecord{
		ID:         section.ID,
		DocumentID: documentID,
		Type:       string(section.Type),
		Title:      section.Title,
		SortOrder:  section.Order,
		Visible:    section.Visible,
	}
}

func itemRecord(sectionID string, item document.Item) (store.ItemRecord, error) {
	fields, err := json.Marshal(item.Fields)
	if err != nil {
		return store.ItemRecord{}, fmt.Errorf("marshal item fields: %w", err)
	}
	return store.ItemRecord{
		ID:        item.ID,
		SectionID: sectionID,
		SortOrder: item.Order,
		Fields:    fields,
	}, nil
}

func blockRecord(documentID string, block document.Block) (store.BlockRecord, error) {
	content, err := block.EncodeContent()
	if err != nil {
		return store.BlockRecord{}, fmt.Errorf("marshal block content: %w", err)
	}
	return store.BlockRecord{
		ID:         block.ID,
		DocumentID: documentID,
		Type:       string(block.Type),
		Title:      block.Title,
		SortOrder:  block.Order,
		Visible:    block.Visible,
		Content:    content,
	}, nil
}
