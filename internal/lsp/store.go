package lsp

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/crateguard/crateguard/internal/manifest"
)

// languageRust is the LSP language identifier for Rust documents.
const languageRust = "rust"

// DocumentStore tracks the text of open Rust documents keyed by URI.
// Documents in other languages are rejected at open time, so later events
// for them fall through as cheap no-ops.
type DocumentStore struct {
	documents map[string]string // URI -> content.
	mu        sync.RWMutex
}

// NewDocumentStore creates a new empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]string),
	}
}

// Open starts tracking a document and reports whether it was accepted.
// Only Rust documents are tracked.
func (ds *DocumentStore) Open(uri, languageID, text string) bool {
	if !isRustDocument(languageID, uri) {
		return false
	}

	ds.Set(uri, text)

	return true
}

// Set stores document content for the given URI.
func (ds *DocumentStore) Set(uri, content string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.documents[uri] = content
}

// Get retrieves document content by URI.
func (ds *DocumentStore) Get(uri string) (string, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	content, ok := ds.documents[uri]

	return content, ok
}

// Delete removes document content by URI.
func (ds *DocumentStore) Delete(uri string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	delete(ds.documents, uri)
}

// URIs returns the URIs of all open documents.
func (ds *DocumentStore) URIs() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	uris := make([]string, 0, len(ds.documents))
	for uri := range ds.documents {
		uris = append(uris, uri)
	}

	return uris
}

// isRustDocument reports whether the document should be checked.
func isRustDocument(languageID, uri string) bool {
	return languageID == languageRust || strings.HasSuffix(uriToPath(uri), ".rs")
}

// isManifest reports whether the URI names a Cargo.toml.
func isManifest(uri string) bool {
	return filepath.Base(uriToPath(uri)) == manifest.FileName
}
