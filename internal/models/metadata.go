package models

import (
	"fmt"
	"strings"
)

// Well-known metadata keys. The submission driver reads the timesheet keys,
// the record-system keys are raw origin fields kept for enrichment.
const (
	MetaClient   = "client"
	MetaProject  = "project"
	MetaActivity = "activity"
	MetaTags     = "tags"

	MetaEntityID       = "entities_id"
	MetaEntityName     = "entity_name"
	MetaEntityFullname = "entity_fullname"
	MetaTechnician     = "technician_name"
)

// Metadata is an opaque bag of attributes carried by a work item and passed
// to the submission collaborator unchanged.
type Metadata map[string]any

// GetString returns the value stored under key rendered as a string.
// Missing keys and nil values yield "".
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; ids are integral
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Has reports whether key is present with a non-empty value.
func (m Metadata) Has(key string) bool {
	if key == MetaTags {
		return len(m.Tags()) > 0
	}
	return m.GetString(key) != ""
}

// SetDefault stores value under key unless a non-empty value is already present.
func (m Metadata) SetDefault(key string, value any) {
	if m == nil || value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	if m.Has(key) {
		return
	}
	m[key] = value
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Tags returns the tag list. Tags may be stored as a []string, a []any
// (after a JSON round trip) or a comma separated string.
func (m Metadata) Tags() []string {
	if m == nil {
		return nil
	}
	var tags []string
	switch val := m[MetaTags].(type) {
	case []string:
		for _, t := range val {
			tags = appendIfNotExists(tags, strings.TrimSpace(t))
		}
	case []any:
		for _, t := range val {
			if s, ok := t.(string); ok {
				tags = appendIfNotExists(tags, strings.TrimSpace(s))
			}
		}
	case string:
		for _, t := range strings.Split(val, ",") {
			tags = appendIfNotExists(tags, strings.TrimSpace(t))
		}
	}
	return tags
}
