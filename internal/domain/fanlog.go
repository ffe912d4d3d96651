package domain

// FanLogEntry is the journal entry for one calendar date.
type FanLogEntry struct {
	Text        string   `json:"text"`
	Images      []string `json:"images"`
	Links       []string `json:"links"`
	SelectedTab string   `json:"selectedTab"`
	// CreatedAt is an RFC 3339 timestamp, empty for a new entry.
	CreatedAt string `json:"createdAt"`
}

// IsEmpty reports whether the entry has no content.
func (e FanLogEntry) IsEmpty() bool {
	return e.Text == "" && len(e.Images) == 0 && len(e.Links) == 0
}
