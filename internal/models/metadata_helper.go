package models

// AddTag appends tag to the tag list unless it is already present
func (m Metadata) AddTag(tag string) {
	if m == nil || tag == "" {
		return
	}
	m[MetaTags] = appendIfNotExists(m.Tags(), tag)
}

// Helper functions
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func appendIfNotExists(slice []string, item string) []string {
	if item == "" || contains(slice, item) {
		return slice
	}
	return append(slice, item)
}
