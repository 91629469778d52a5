package document

import (
	"encoding/json"
	"time"

	"folio/api/internal/util"
)

// The mutation API below is deliberately tolerant: unknown ids and
// out-of-range indexes are silent no-ops, because the UI fires these
// operations optimistically and a stale id must never corrupt the model.
// Every effective mutation marks the document dirty and refreshes
// Meta.LastEditedAt in the same call.

func (d *Document) touch() {
	d.Dirty = true
	d.Meta.LastEditedAt = time.Now()
}

// AddSection appends a new empty section with Order = len(Sections).
func (d *Document) AddSection(t SectionType) *Section {
	section := Section{
		ID:      util.NewID("sec"),
		Type:    t,
		Title:   sectionTitle(t),
		Order:   len(d.Sections),
		Visible: true,
		Items:   []Item{},
	}
	d.Sections = append(d.Sections, section)
	d.touch()
	return &d.Sections[len(d.Sections)-1]
}

func sectionTitle(t SectionType) string {
	switch t {
	case SectionExperience:
		return "Experience"
	case SectionEducation:
		return "Education"
	case SectionSkills:
		return "Skills"
	case SectionProjects:
		return "Projects"
	case SectionLanguages:
		return "Languages"
	case SectionCertifications:
		return "Certifications"
	default:
		return "New Section"
	}
}

// DeleteSection removes a section by id and renumbers the rest.
func (d *Document) DeleteSection(id string) {
	index := d.sectionIndex(id)
	if index < 0 {
		return
	}
	d.Sections = append(d.Sections[:index], d.Sections[index+1:]...)
	renumberSections(d.Sections)
	d.touch()
}

// ReorderSections moves the section at from to position to. An invalid
// from is a no-op; to is clamped into range.
func (d *Document) ReorderSections(from, to int) {
	if !moveSection(d.Sections, from, to) {
		return
	}
	renumberSections(d.Sections)
	d.touch()
}

// SectionUpdate is a shallow-merge patch; nil fields are left untouched.
type SectionUpdate struct {
	Title   *string `json:"title,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
}

// UpdateSection shallow-merges the patch into the section.
func (d *Document) UpdateSection(id string, patch SectionUpdate) {
	index := d.sectionIndex(id)
	if index < 0 {
		return
	}
	section := &d.Sections[index]
	if patch.Title != nil {
		section.Title = *patch.Title
	}
	if patch.Visible != nil {
		section.Visible = *patch.Visible
	}
	d.touch()
}

// ToggleSection flips a section's visibility.
func (d *Document) ToggleSection(id string) {
	index := d.sectionIndex(id)
	if index < 0 {
		return
	}
	d.Sections[index].Visible = !d.Sections[index].Visible
	d.touch()
}

// AddItem validates fields against the section type's schema and appends
// the item. A missing section is a silent no-op; invalid fields are an
// error surfaced to the caller.
func (d *Document) AddItem(sectionID string, fields map[string]any) (*Item, error) {
	index := d.sectionIndex(sectionID)
	if index < 0 {
		return nil, nil
	}
	section := &d.Sections[index]
	if err := ValidateItemFields(section.Type, fields); err != nil {
		return nil, err
	}
	item := Item{
		ID:     util.NewID("itm"),
		Order:  len(section.Items),
		Fields: copyFields(fields),
	}
	section.Items = append(section.Items, item)
	d.touch()
	return &section.Items[len(section.Items)-1], nil
}

// UpdateItem shallow-merges partial fields into an existing item and
// re-validates the merged result. Unknown section or item ids are silent
// no-ops; a merge that breaks the section's schema is rejected.
func (d *Document) UpdateItem(sectionID, itemID string, partial map[string]any) error {
	sectionIdx := d.sectionIndex(sectionID)
	if sectionIdx < 0 {
		return nil
	}
	section := &d.Sections[sectionIdx]
	itemIdx := itemIndex(section.Items, itemID)
	if itemIdx < 0 {
		return nil
	}
	merged := copyFields(section.Items[itemIdx].Fields)
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range partial {
		merged[k] = v
	}
	if err := ValidateItemFields(section.Type, merged); err != nil {
		return err
	}
	section.Items[itemIdx].Fields = merged
	d.touch()
	return nil
}

// DeleteItem removes an item by id and renumbers the section's remainder.
func (d *Document) DeleteItem(sectionID, itemID string) {
	sectionIdx := d.sectionIndex(sectionID)
	if sectionIdx < 0 {
		return
	}
	section := &d.Sections[sectionIdx]
	itemIdx := itemIndex(section.Items, itemID)
	if itemIdx < 0 {
		return
	}
	section.Items = append(section.Items[:itemIdx], section.Items[itemIdx+1:]...)
	renumberItems(section.Items)
	d.touch()
}

// ReorderItems moves an item within a section, same clamping rules as
// ReorderSections.
func (d *Document) ReorderItems(sectionID string, from, to int) {
	sectionIdx := d.sectionIndex(sectionID)
	if sectionIdx < 0 {
		return
	}
	section := &d.Sections[sectionIdx]
	if !moveItem(section.Items, from, to) {
		return
	}
	renumberItems(section.Items)
	d.touch()
}

// AddBlock appends a new block with the zero payload for its type.
func (d *Document) AddBlock(t BlockType) *Block {
	block := Block{
		ID:      util.NewID("blk"),
		Type:    t,
		Title:   blockTitle(t),
		Order:   len(d.Blocks),
		Visible: true,
		Content: emptyBlockContent(t),
	}
	d.Blocks = append(d.Blocks, block)
	d.touch()
	return &d.Blocks[len(d.Blocks)-1]
}

func blockTitle(t BlockType) string {
	switch t {
	case BlockText:
		return "Text"
	case BlockTestimonials:
		return "Testimonials"
	case BlockTimeline:
		return "Timeline"
	case BlockGallery:
		return "Gallery"
	case BlockContactForm:
		return "Contact"
	default:
		return "New Block"
	}
}

// DeleteBlock removes a block by id and renumbers the rest.
func (d *Document) DeleteBlock(id string) {
	index := d.blockIndex(id)
	if index < 0 {
		return
	}
	d.Blocks = append(d.Blocks[:index], d.Blocks[index+1:]...)
	renumberBlocks(d.Blocks)
	d.touch()
}

// ReorderBlocks moves the block at from to position to, same clamping
// rules as ReorderSections.
func (d *Document) ReorderBlocks(from, to int) {
	if !moveBlock(d.Blocks, from, to) {
		return
	}
	renumberBlocks(d.Blocks)
	d.touch()
}

// BlockUpdate is a shallow-merge patch for a block. Content, when present,
// replaces the whole payload: block content is one bag, not a field set.
type BlockUpdate struct {
	Title   *string         `json:"title,omitempty"`
	Visible *bool           `json:"visible,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// UpdateBlock shallow-merges the patch; an unknown id is a silent no-op,
// malformed content is an error.
func (d *Document) UpdateBlock(id string, patch BlockUpdate) error {
	index := d.blockIndex(id)
	if index < 0 {
		return nil
	}
	block := &d.Blocks[index]
	if patch.Title != nil {
		block.Title = *patch.Title
	}
	if patch.Visible != nil {
		block.Visible = *patch.Visible
	}
	if len(patch.Content) > 0 {
		content, err := DecodeBlockContent(block.Type, patch.Content)
		if err != nil {
			return err
		}
		block.Content = content
	}
	d.touch()
	return nil
}

// ToggleBlock flips a block's visibility.
func (d *Document) ToggleBlock(id string) {
	index := d.blockIndex(id)
	if index < 0 {
		return
	}
	d.Blocks[index].Visible = !d.Blocks[index].Visible
	d.touch()
}

// MetaUpdate is a shallow-merge patch for document meta.
type MetaUpdate struct {
	Title  *string `json:"title,omitempty"`
	Slug   *string `json:"slug,omitempty"`
	Layout *string `json:"layout,omitempty"`
	Public *bool   `json:"public,omitempty"`
}

// UpdateMeta shallow-merges the patch into Meta.
func (d *Document) UpdateMeta(patch MetaUpdate) {
	if patch.Title != nil {
		d.Meta.Title = *patch.Title
	}
	if patch.Slug != nil {
		d.Meta.Slug = *patch.Slug
	}
	if patch.Layout != nil {
		d.Meta.Layout = *patch.Layout
	}
	if patch.Public != nil {
		d.Meta.Public = *patch.Public
	}
	d.touch()
}

// ProfileUpdate is a shallow-merge patch for the profile fields.
type ProfileUpdate struct {
	FullName    *string `json:"fullName,omitempty"`
	Headline    *string `json:"headline,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Location    *string `json:"location,omitempty"`
	Website     *string `json:"website,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	HeroTitle   *string `json:"heroTitle,omitempty"`
	HeroTagline *string `json:"heroTagline,omitempty"`
}

// UpdateProfile shallow-merges the patch into Profile.
func (d *Document) UpdateProfile(patch ProfileUpdate) {
	if patch.FullName != nil {
		d.Profile.FullName = *patch.FullName
	}
	if patch.Headline != nil {
		d.Profile.Headline = *patch.Headline
	}
	if patch.Email != nil {
		d.Profile.Email = *patch.Email
	}
	if patch.Phone != nil {
		d.Profile.Phone = *patch.Phone
	}
	if patch.Location != nil {
		d.Profile.Location = *patch.Location
	}
	if patch.Website != nil {
		d.Profile.Website = *patch.Website
	}
	if patch.Summary != nil {
		d.Profile.Summary = *patch.Summary
	}
	if patch.HeroTitle != nil {
		d.Profile.HeroTitle = *patch.HeroTitle
	}
	if patch.HeroTagline != nil {
		d.Profile.HeroTagline = *patch.HeroTagline
	}
	d.touch()
}

func (d *Document) sectionIndex(id string) int {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) blockIndex(id string) int {
	for i := range d.Blocks {
		if d.Blocks[i].ID == id {
			return i
		}
	}
	return -1
}

func itemIndex(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func renumberSections(sections []Section) {
	for i := range sections {
		sections[i].Order = i
	}
}

func renumberItems(items []Item) {
	for i := range items {
		items[i].Order = i
	}
}

func renumberBlocks(blocks []Block) {
	for i := range blocks {
		blocks[i].Order = i
	}
}

func moveSection(list []Section, from, to int) bool {
	if from < 0 || from >= len(list) {
		return false
	}
	to = clamp(to, 0, len(list)-1)
	if from == to {
		return false
	}
	moved := list[from]
	if from < to {
		copy(list[from:to], list[from+1:to+1])
	} else {
		copy(list[to+1:from+1], list[to:from])
	}
	list[to] = moved
	return true
}

func moveItem(list []Item, from, to int) bool {
	if from < 0 || from >= len(list) {
		return false
	}
	to = clamp(to, 0, len(list)-1)
	if from == to {
		return false
	}
	moved := list[from]
	if from < to {
		copy(list[from:to], list[from+1:to+1])
	} else {
		copy(list[to+1:from+1], list[to:from])
	}
	list[to] = moved
	return true
}

func moveBlock(list []Block, from, to int) bool {
	if from < 0 || from >= len(list) {
		return false
	}
	to = clamp(to, 0, len(list)-1)
	if from == to {
		return false
	}
	moved := list[from]
	if from < to {
		copy(list[from:to], list[from+1:to+1])
	} else {
		copy(list[to+1:from+1], list[to:from])
	}
	list[to] = moved
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
