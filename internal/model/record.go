// Package model defines the core slicing data types.
package model

import "time"

// Record is an immutable conversational turn in the history store.
// Records are created by the ingestion collaborators; this service
// only reads them.
type Record struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Timestamp  time.Time `json:"timestamp"`
	Salience   float64   `json:"salience"`
	Source     string    `json:"source,omitempty"`
	ContentRef string    `json:"content_ref,omitempty"`
}

// Link relates two records (adapted conversation structure: replies,
// references, corrections). Written by ingestion, read here for
// link-following policies.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Rel       string    `json:"rel"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidRels are the allowed link relations.
var ValidRels = map[string]bool{
	"replies_to": true,
	"references": true,
	"corrects":   true,
	"continues":  true,
}
