// Package clouddrive implements the remote half of the Scanner component
// plus the write-side Tree the executor consumes, against a
// Google-Drive-like API: items live in a multi-parent DAG (a file can sit
// in more than one folder), so each Item carries ParentIDs []string
// rather than a single parent reference. Each upload is a single request
// (Tree.Upload); no upload session is kept.
package clouddrive

import "time"

// ChildCountUnknown marks that the API didn't report
// a child count for this item.
const ChildCountUnknown = -1

// Item is one remote file or folder, normalized from whatever the cloud
// API's raw JSON shape is. ParentIDs holds every folder this item
// currently sits in; a single-parent OneDrive-style API always returns a
// slice of length one.
type Item struct {
	ID         string
	Name       string
	ParentIDs  []string
	Size       int64
	ETag       string
	IsFolder   bool
	MimeType   string
	Hash       string // content hash in the provider's native encoding
	HashAlgo   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	ChildCount int
	IsDeleted  bool
}

// DeltaPage is one page of a change-token query, mirroring graph.DeltaPage.
type DeltaPage struct {
	Items     []Item
	NextToken string // more pages: pass back as the next call's token
	NewToken  string // done: the token to persist for the next poll cycle
}
