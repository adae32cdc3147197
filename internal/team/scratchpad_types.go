package team

import "time"

// Line is one line of a scratchpad document (spec §4.7.2).
type Line struct {
	Content        string    `json:"content"`
	LastModifiedBy string    `json:"last_modified_by"`
	Timestamp      time.Time `json:"timestamp"`
}

// Document is a named scratchpad document: an ordered sequence of
// lines, each carrying its own last-editor and timestamp.
type Document struct {
	ID    string `json:"id"`
	Lines []Line `json:"lines"`
}
