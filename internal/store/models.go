package store

import "time"

// DocumentRecord is the root documents row. Kind is "cv" or "portfolio";
// the scalar profile and hero fields are flattened onto the root so the
// update path can replace them in a single statement.
type DocumentRecord struct {
	ID          string
	Owner       string
	Kind        string
	Title       string
	Slug        string
	Layout      string
	Public      bool
	FullName    string
	Headline    string
	Email       string
	Phone       string
	Location    string
	Website     string
	Summary     string
	HeroTitle   string
	HeroTagline string
	UpdatedAt   time.Time
}

// SectionRecord is a CV child row. SortOrder mirrors the in-memory order
// and is always contiguous from zero within a document.
type SectionRecord struct {
	ID         string
	DocumentID string
	Type       string
	Title      string
	SortOrder  int
	Visible    bool
}

// ItemRecord is a grandchild row; Fields is the item's JSON field bag.
type ItemRecord struct {
	ID        string
	SectionID string
	SortOrder int
	Fields    []byte
}

// BlockRecord is a portfolio child row; Content is the block's JSON
// payload, stored opaque so new block types need no schema change.
type BlockRecord struct {
	ID         string
	DocumentID string
	Type       string
	Title      string
	SortOrder  int
	Visible    bool
	Content    []byte
}
