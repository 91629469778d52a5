package document

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Per-section-type item schemas. These are the contract behind the rule
// that an item's shape is fully determined by its owning section's type;
// items are validated on insert, on merge and on snapshot import. The
// custom type carries no schema and accepts any bag of fields.
var itemSchemas = map[SectionType]string{
	SectionExperience: `{
		"type": "object",
		"required": ["company", "role"],
		"properties": {
			"company":   {"type": "string", "minLength": 1},
			"role":      {"type": "string", "minLength": 1},
			"location":  {"type": "string"},
			"startDate": {"type": "string"},
			"endDate":   {"type": "string"},
			"current":   {"type": "boolean"},
			"bullets":   {"type": "array", "items": {"type": "string"}},
			"techStack": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	SectionEducation: `{
		"type": "object",
		"required": ["school"],
		"properties": {
			"school":    {"type": "string", "minLength": 1},
			"degree":    {"type": "string"},
			"field":     {"type": "string"},
			"startDate": {"type": "string"},
			"endDate":   {"type": "string"},
			"notes":     {"type": "string"}
		},
		"additionalProperties": false
	}`,
	SectionSkills: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name":        {"type": "string", "minLength": 1},
			"category":    {"type": "string"},
			"proficiency": {"type": "integer", "minimum": 1, "maximum": 5}
		},
		"additionalProperties": false
	}`,
	SectionProjects: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name":        {"type": "string", "minLength": 1},
			"url":         {"type": "string"},
			"description": {"type": "string"},
			"techStack":   {"type": "array", "items": {"type": "string"}},
			"highlights":  {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	SectionLanguages: `{
		"type": "object",
		"required": ["language"],
		"properties": {
			"language": {"type": "string", "minLength": 1},
			"level":    {"type": "string"}
		},
		"additionalProperties": false
	}`,
	SectionCertifications: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name":   {"type": "string", "minLength": 1},
			"issuer": {"type": "string"},
			"year":   {"type": "string"},
			"url":    {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

var (
	schemaMu        sync.Mutex
	compiledSchemas = map[SectionType]*gojsonschema.Schema{}
)

func compiledItemSchema(t SectionType) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if schema, ok := compiledSchemas[t]; ok {
		return schema, nil
	}
	source, ok := itemSchemas[t]
	if !ok {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile %s item schema: %w", t, err)
	}
	compiledSchemas[t] = schema
	return schema, nil
}

// ValidateItemFields checks an item's field bag against the owning section
// type's schema. Types without a schema (custom, unknown) accept anything.
func ValidateItemFields(t SectionType, fields map[string]any) error {
	schema, err := compiledItemSchema(t)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if fields == nil {
		fields = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return fmt.Errorf("validate %s item: %w", t, err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		messages = append(messages, resultError.String())
	}
	return fmt.Errorf("invalid %s item: %s", t, strings.Join(messages, "; "))
}

// snapshotSchema guards imported snapshots before they are unmarshalled.
// It pins the envelope shape; item fields and block content are validated
// separately by their own decoders.
const snapshotSchema = `{
	"type": "object",
	"required": ["kind", "meta", "profileFields"],
	"properties": {
		"id":            {"type": "string"},
		"kind":          {"type": "string", "enum": ["cv", "portfolio"]},
		"meta": {
			"type": "object",
			"required": ["title"],
			"properties": {
				"title":        {"type": "string"},
				"slug":         {"type": "string"},
				"layout":       {"type": "string"},
				"public":       {"type": "boolean"},
				"lastEditedAt": {"type": "string"}
			}
		},
		"profileFields": {"type": "object"},
		"sections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"id":      {"type": "string"},
					"type":    {"type": "string"},
					"title":   {"type": "string"},
					"order":   {"type": "integer"},
					"visible": {"type": "boolean"},
					"items": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"id":     {"type": "string"},
								"order":  {"type": "integer"},
								"fields": {"type": "object"}
							}
						}
					}
				}
			}
		},
		"blocks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"id":      {"type": "string"},
					"type":    {"type": "string"},
					"title":   {"type": "string"},
					"order":   {"type": "integer"},
					"visible": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	snapshotSchemaOnce     sync.Once
	compiledSnapshotSchema *gojsonschema.Schema
	snapshotSchemaErr      error
)

func validateSnapshotJSON(raw []byte) error {
	snapshotSchemaOnce.Do(func() {
		compiledSnapshotSchema, snapshotSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	})
	if snapshotSchemaErr != nil {
		return fmt.Errorf("compile snapshot schema: %w", snapshotSchemaErr)
	}
	result, err := compiledSnapshotSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate snapshot: %w", err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		messages = append(messages, resultError.String())
	}
	return fmt.Errorf("invalid snapshot: %s", strings.Join(messages, "; "))
}
