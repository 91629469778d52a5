package document

import (
	"encoding/json"
	"fmt"
)

// BlockType tags a portfolio block. Unlike section types the catalogue is
// open: unknown types round-trip through the Custom variant so new block
// kinds can ship without a storage migration.
type BlockType string

const (
	BlockText         BlockType = "text"
	BlockTestimonials BlockType = "testimonials"
	BlockTimeline     BlockType = "timeline"
	BlockGallery      BlockType = "gallery"
	BlockContactForm  BlockType = "contact-form"
)

// Block is an ordered child of a portfolio document.
type Block struct {
	ID      string
	Type    BlockType
	Title   string
	Order   int
	Visible bool
	Content BlockContent
}

// BlockContent is a tagged union keyed by the owning block's Type. Exactly
// one variant is populated for known types; Custom carries the payload for
// everything else.
type BlockContent struct {
	Text         *TextContent
	Testimonials *TestimonialsContent
	Timeline     *TimelineContent
	Gallery      *GalleryContent
	ContactForm  *ContactFormContent
	Custom       map[string]any
}

type TextContent struct {
	Markdown string `json:"markdown"`
}

type Testimonial struct {
	Author    string `json:"author"`
	Role      string `json:"role,omitempty"`
	Quote     string `json:"quote"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type TestimonialsContent struct {
	Entries []Testimonial `json:"entries"`
}

type TimelineEntry struct {
	Label       string `json:"label"`
	Period      string `json:"period,omitempty"`
	Description string `json:"description,omitempty"`
}

type TimelineContent struct {
	Entries []TimelineEntry `json:"entries"`
}

type GalleryImage struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Alt     string `json:"alt,omitempty"`
}

type GalleryContent struct {
	Images  []GalleryImage `json:"images"`
	Columns int            `json:"columns,omitempty"`
}

type ContactFormContent struct {
	RecipientEmail string `json:"recipientEmail"`
	SuccessMessage string `json:"successMessage,omitempty"`
	ShowPhoneField bool   `json:"showPhoneField,omitempty"`
}

// emptyBlockContent returns the zero payload for a freshly added block.
func emptyBlockContent(t BlockType) BlockContent {
	switch t {
	case BlockText:
		return BlockContent{Text: &TextContent{}}
	case BlockTestimonials:
		return BlockContent{Testimonials: &TestimonialsContent{}}
	case BlockTimeline:
		return BlockContent{Timeline: &TimelineContent{}}
	case BlockGallery:
		return BlockContent{Gallery: &GalleryContent{}}
	case BlockContactForm:
		return BlockContent{ContactForm: &ContactFormContent{}}
	default:
		return BlockContent{Custom: map[string]any{}}
	}
}

// DecodeBlockContent parses raw content for a block of type t. Unknown
// types land in the Custom variant; a missing payload yields the zero
// payload for the type.
func DecodeBlockContent(t BlockType, raw []byte) (BlockContent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyBlockContent(t), nil
	}
	switch t {
	case BlockText:
		content := &TextContent{}
		if err := json.Unmarshal(raw, content); err != nil {
			return BlockContent{}, fmt.Errorf("decode text block: %w", err)
		}
		return BlockContent{Text: content}, nil
	case BlockTestimonials:
		content := &TestimonialsContent{}
		if err := json.Unmarshal(raw, content); err != nil {
			return BlockContent{}, fmt.Errorf("decode testimonials block: %w", err)
		}
		return BlockContent{Testimonials: content}, nil
	case BlockTimeline:
		content := &TimelineContent{}
		if err := json.Unmarshal(raw, content); err != nil {
			return BlockContent{}, fmt.Errorf("decode timeline block: %w", err)
		}
		return BlockContent{Timeline: content}, nil
	case BlockGallery:
		content := &GalleryContent{}
		if err := json.Unmarshal(raw, content); err != nil {
			return BlockContent{}, fmt.Errorf("decode gallery block: %w", err)
		}
		return BlockContent{Gallery: content}, nil
	case BlockContactForm:
		content := &ContactFormContent{}
		if err := json.Unmarshal(raw, content); err != nil {
			return BlockContent{}, fmt.Errorf("decode contact-form block: %w", err)
		}
		return BlockContent{ContactForm: content}, nil
	default:
		content := map[string]any{}
		if err := json.Unmarshal(raw, &content); err != nil {
			return BlockContent{}, fmt.Errorf("decode %s block: %w", t, err)
		}
		return BlockContent{Custom: content}, nil
	}
}

// EncodeContent serializes the active variant for storage and export.
func (b Block) EncodeContent() ([]byte, error) {
	return json.Marshal(b.Content.payload(b.Type))
}

// payload returns the active variant, falling back to the zero payload so
// a block never serializes as null.
func (c BlockContent) payload(t BlockType) any {
	switch {
	case c.Text != nil:
		return c.Text
	case c.Testimonials != nil:
		return c.Testimonials
	case c.Timeline != nil:
		return c.Timeline
	case c.Gallery != nil:
		return c.Gallery
	case c.ContactForm != nil:
		return c.ContactForm
	case c.Custom != nil:
		return c.Custom
	default:
		return emptyBlockContent(t).payload(t)
	}
}

func (c BlockContent) clone() BlockContent {
	out := BlockContent{}
	if c.Text != nil {
		copied := *c.Text
		out.Text = &copied
	}
	if c.Testimonials != nil {
		copied := TestimonialsContent{Entries: append([]Testimonial(nil), c.Testimonials.Entries...)}
		out.Testimonials = &copied
	}
	if c.Timeline != nil {
		copied := TimelineContent{Entries: append([]TimelineEntry(nil), c.Timeline.Entries...)}
		out.Timeline = &copied
	}
	if c.Gallery != nil {
		copied := GalleryContent{Images: append([]GalleryImage(nil), c.Gallery.Images...), Columns: c.Gallery.Columns}
		out.Gallery = &copied
	}
	if c.ContactForm != nil {
		copied := *c.ContactForm
		out.ContactForm = &copied
	}
	if c.Custom != nil {
		out.Custom = copyFields(c.Custom)
	}
	return out
}

type blockJSON struct {
	ID      string          `json:"id"`
	Type    BlockType       `json:"type"`
	Title   string          `json:"title"`
	Order   int             `json:"order"`
	Visible bool            `json:"visible"`
	Content json.RawMessage `json:"content"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	content, err := b.EncodeContent()
	if err != nil {
		return nil, err
	}
	return json.Marshal(blockJSON{
		ID:      b.ID,
		Type:    b.Type,
		Title:   b.Title,
		Order:   b.Order,
		Visible: b.Visible,
		Content: content,
	})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := DecodeBlockContent(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	b.ID = raw.ID
	b.Type = raw.Type
	b.Title = raw.Title
	b.Order = raw.Order
	b.Visible = raw.Visible
	b.Content = content
	return nil
}
