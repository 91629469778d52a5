// Package document holds the in-memory model for a CV or Portfolio and the
// mutation operations over it. Everything in this package is pure: mutators
// touch exactly one Document, keep child ordering contiguous, and flag the
// document dirty; persistence is someone else's job.
package document

import (
	"time"

	"folio/api/internal/util"
)

// Kind selects which child collection a document carries.
type Kind string

const (
	KindCV        Kind = "cv"
	KindPortfolio Kind = "portfolio"
)

// SectionType is the closed catalogue of CV section variants. The field set
// of every item in a section is determined by this type.
type SectionType string

const (
	SectionExperience     SectionType = "experience"
	SectionEducation      SectionType = "education"
	SectionSkills         SectionType = "skills"
	SectionProjects       SectionType = "projects"
	SectionLanguages      SectionType = "languages"
	SectionCertifications SectionType = "certifications"
	SectionCustom         SectionType = "custom"
)

var sectionTypes = map[SectionType]struct{}{
	SectionExperience:     {},
	SectionEducation:      {},
	SectionSkills:         {},
	SectionProjects:       {},
	SectionLanguages:      {},
	SectionCertifications: {},
	SectionCustom:         {},
}

// KnownSectionType reports whether t is part of the section catalogue.
func KnownSectionType(t SectionType) bool {
	_, ok := sectionTypes[t]
	return ok
}

// Meta carries document-level presentation fields.
type Meta struct {
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Layout       string    `json:"layout"`
	Public       bool      `json:"public"`
	LastEditedAt time.Time `json:"lastEditedAt,omitempty"`
}

// Profile carries the free-form identity and hero fields shared by both
// document kinds. All fields are plain scalars rendered by the templates.
type Profile struct {
	FullName    string `json:"fullName,omitempty"`
	Headline    string `json:"headline,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Location    string `json:"location,omitempty"`
	Website     string `json:"website,omitempty"`
	Summary     string `json:"summary,omitempty"`
	HeroTitle   string `json:"heroTitle,omitempty"`
	HeroTagline string `json:"heroTagline,omitempty"`
}

// Item is one entry inside a CV section. Fields is interpreted per the
// owning section's type and validated against that type's schema when the
// item enters the section.
type Item struct {
	ID     string         `json:"id"`
	Order  int            `json:"order"`
	Fields map[string]any `json:"fields"`
}

// Section is an ordered, typed child collection of a CV document.
type Section struct {
	ID      string      `json:"id"`
	Type    SectionType `json:"type"`
	Title   string      `json:"title"`
	Order   int         `json:"order"`
	Visible bool        `json:"visible"`
	Items   []Item      `json:"items"`
}

// Document is the root aggregate. ID stays empty until the first successful
// create against the backend; once set it never changes. Dirty, Saving and
// LastSavedAt form the save state machine and are deliberately excluded
// from the serialized Snapshot.
type Document struct {
	ID       string
	Kind     Kind
	Meta     Meta
	Profile  Profile
	Sections []Section
	Blocks   []Block

	Dirty       bool
	Saving      bool
	LastSavedAt *time.Time
}

// New returns an empty document of the given kind.
func New(kind Kind) *Document {
	return &Document{
		Kind: kind,
		Meta: Meta{Title: defaultTitle(kind), Layout: "classic"},
	}
}

func defaultTitle(kind Kind) string {
	if kind == KindPortfolio {
		return "Untitled Portfolio"
	}
	return "Untitled CV"
}

// Snapshot is the serializable projection of a Document: everything except
// the save state machine. It is the draft cache record, the export format
// and the history payload, all at once.
type Snapshot struct {
	ID       string    `json:"id,omitempty"`
	Kind     Kind      `json:"kind"`
	Meta     Meta      `json:"meta"`
	Profile  Profile   `json:"profileFields"`
	Sections []Section `json:"sections,omitempty"`
	Blocks   []Block   `json:"blocks,omitempty"`
}

// Snapshot returns a deep copy of the document's persistent state. The sync
// engine calls this at the start of a round-trip so later mutations cannot
// leak into an in-flight save.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		ID:       d.ID,
		Kind:     d.Kind,
		Meta:     d.Meta,
		Profile:  d.Profile,
		Sections: copySections(d.Sections),
		Blocks:   copyBlocks(d.Blocks),
	}
}

// FromSnapshot rebuilds a clean document from a snapshot, renumbering child
// collections so the ordering invariant holds even for snapshots produced
// elsewhere.
func FromSnapshot(snap Snapshot) *Document {
	doc := &Document{
		ID:       snap.ID,
		Kind:     snap.Kind,
		Meta:     snap.Meta,
		Profile:  snap.Profile,
		Sections: copySections(snap.Sections),
		Blocks:   copyBlocks(snap.Blocks),
	}
	for i := range doc.Sections {
		if doc.Sections[i].ID == "" {
			doc.Sections[i].ID = util.NewID("sec")
		}
		doc.Sections[i].Order = i
		for j := range doc.Sections[i].Items {
			if doc.Sections[i].Items[j].ID == "" {
				doc.Sections[i].Items[j].ID = util.NewID("itm")
			}
			doc.Sections[i].Items[j].Order = j
		}
	}
	for i := range doc.Blocks {
		if doc.Blocks[i].ID == "" {
			doc.Blocks[i].ID = util.NewID("blk")
		}
		doc.Blocks[i].Order = i
	}
	return doc
}

func copySections(sections []Section) []Section {
	if sections == nil {
		return nil
	}
	out := make([]Section, len(sections))
	for i, section := range sections {
		copied := section
		copied.Items = copyItems(section.Items)
		out[i] = copied
	}
	return out
}

func copyItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		copied := item
		copied.Fields = copyFields(item.Fields)
		out[i] = copied
	}
	return out
}

func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func copyBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, block := range blocks {
		copied := block
		copied.Content = block.Content.clone()
		out[i] = copied
	}
	return out
}
