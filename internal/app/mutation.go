package app

import (
	"net/http"

	"folio/api/internal/document"
)

// MutationInput is the typed envelope for a single edit coming from the
// UI. Op selects the operation; the remaining fields are read per-op.
type MutationInput struct {
	Op        string `json:"op"`
	SectionID string `json:"sectionId,omitempty"`
	BlockID   string `json:"blockId,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
	Type      string `json:"type,omitempty"`
	From      int    `json:"from"`
	To        int    `json:"to"`

	Fields  map[string]any          `json:"fields,omitempty"`
	Section *document.SectionUpdate `json:"section,omitempty"`
	Block   *document.BlockUpdate   `json:"block,omitempty"`
	Meta    *document.MetaUpdate    `json:"meta,omitempty"`
	Profile *document.ProfileUpdate `json:"profile,omitempty"`
}

// applyMutation dispatches one mutation onto the document. Section ops on
// a portfolio (and block ops on a CV) are client programming errors and
// rejected loudly; everything id-based inside a valid op stays tolerant.
func applyMutation(doc *document.Document, m MutationInput) error {
	switch m.Op {
	case "addSection":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		t := document.SectionType(m.Type)
		if !document.KnownSectionType(t) {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown section type "+m.Type)
		}
		doc.AddSection(t)
		return nil
	case "deleteSection":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		doc.DeleteSection(m.SectionID)
		return nil
	case "reorderSections":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		doc.ReorderSections(m.From, m.To)
		return nil
	case "updateSection":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		if m.Section != nil {
			doc.UpdateSection(m.SectionID, *m.Section)
		}
		return nil
	case "toggleSection":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		doc.ToggleSection(m.SectionID)
		return nil
	case "addItem":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		if _, err := doc.AddItem(m.SectionID, m.Fields); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		}
		return nil
	case "updateItem":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		if err := doc.UpdateItem(m.SectionID, m.ItemID, m.Fields); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		}
		return nil
	case "deleteItem":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		doc.DeleteItem(m.SectionID, m.ItemID)
		return nil
	case "reorderItems":
		if err := requireKind(doc, document.KindCV, m.Op); err != nil {
			return err
		}
		doc.ReorderItems(m.SectionID, m.From, m.To)
		return nil
	case "addBlock":
		if err := requireKind(doc, document.KindPortfolio, m.Op); err != nil {
			return err
		}
		doc.AddBlock(document.BlockType(m.Type))
		return nil
	case "deleteBlock":
		if err := requireKind(doc, document.KindPortfolio, m.Op); err != nil {
			return err
		}
		doc.DeleteBlock(m.BlockID)
		return nil
	case "reorderBlocks":
		if err := requireKind(doc, document.KindPortfolio, m.Op); err != nil {
			return err
		}
		doc.ReorderBlocks(m.From, m.To)
		return nil
	case "updateBlock":
		if err := requireKind(doc, document.KindPortfolio, m.Op); err != nil {
			return err
		}
		if m.Block != nil {
			if err := doc.UpdateBlock(m.BlockID, *m.Block); err != nil {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			}
		}
		return nil
	case "toggleBlock":
		if err := requireKind(doc, document.KindPortfolio, m.Op); err != nil {
			return err
		}
		doc.ToggleBlock(m.BlockID)
		return nil
	case "updateMeta":
		if m.Meta != nil {
			doc.UpdateMeta(*m.Meta)
		}
		return nil
	case "updateProfile":
		if m.Profile != nil {
			doc.UpdateProfile(*m.Profile)
		}
		return nil
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown mutation op "+m.Op)
	}
}

func requireKind(doc *document.Document, kind document.Kind, op string) error {
	if doc.Kind != kind {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", op+" is not valid for a "+string(doc.Kind)+" document")
	}
	return nil
}
