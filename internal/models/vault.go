// Package models defines the domain types for steward.
package models

import "time"

// VaultFile is one markdown file under the vault root.
type VaultFile struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
}

// RecentFile is a VaultFile annotated with its modification time.
type RecentFile struct {
	VaultFile
	ModTime time.Time `json:"modified_at"`
}

// SearchHit is one matching line from a vault search.
type SearchHit struct {
	Path    string `json:"file"`
	Line    int    `json:"line_number"` // 1-based
	Excerpt string `json:"excerpt"`
}
