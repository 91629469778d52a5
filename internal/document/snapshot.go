package document

import (
	"encoding/json"
	"fmt"
)

// Export serializes the document's snapshot. Export then ParseSnapshot
// reproduces an equal model modulo remote id and timestamps.
func (d *Document) Export() ([]byte, error) {
	snap := d.Snapshot()
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(payload, '\n'), nil
}

// ParseSnapshot validates and parses a snapshot exported by this package
// (or produced by a compatible client). On top of the envelope schema it
// re-checks the closed section catalogue and every item's field bag, so a
// hand-edited file cannot smuggle malformed items into a section.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	if err := validateSnapshotJSON(raw); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}

	if snap.Kind == KindPortfolio && len(snap.Sections) > 0 {
		return Snapshot{}, fmt.Errorf("invalid snapshot: portfolio documents carry blocks, not sections")
	}
	if snap.Kind == KindCV && len(snap.Blocks) > 0 {
		return Snapshot{}, fmt.Errorf("invalid snapshot: cv documents carry sections, not blocks")
	}

	for _, section := range snap.Sections {
		if !KnownSectionType(section.Type) {
			return Snapshot{}, fmt.Errorf("invalid snapshot: unknown section type %q", section.Type)
		}
		for _, item := range section.Items {
			if err := ValidateItemFields(section.Type, item.Fields); err != nil {
				return Snapshot{}, fmt.Errorf("invalid snapshot: section %q: %w", section.Title, err)
			}
		}
	}
	return snap, nil
}
