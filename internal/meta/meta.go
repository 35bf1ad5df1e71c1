// Package meta defines the tenant-attached document metadata carried through
// both engines and the cluster bus.
package meta

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Mandatory and well-known metadata keys.
const (
	// KeyDocID is the stable, opaque document identifier.
	KeyDocID = "docid"
	// KeyLangID is the ISO 2-letter language code; may be auto-filled on ingest.
	KeyLangID = "langid"
	// KeyCmsPath is the drive-relative path of the source file.
	KeyCmsPath = "cmspath"
	// KeyFullPath is the absolute storage path of the source file.
	KeyFullPath = "fullpath"
	// KeyReferenceLink is an optional link back to the source document.
	KeyReferenceLink = "referencelink"
	// KeyChunkIndex marks the chunk position for vector entries sharing a document.
	KeyChunkIndex = "chunkindex"
)

// Metadata is the key/value map attached to every indexed record.
type Metadata map[string]string

// DocID returns the value under the given docid key.
func (m Metadata) DocID(docidKey string) string {
	if docidKey == "" {
		docidKey = KeyDocID
	}
	return m[docidKey]
}

// Lang returns the language code, if set.
func (m Metadata) Lang(langidKey string) string {
	if langidKey == "" {
		langidKey = KeyLangID
	}
	return m[langidKey]
}

// Clone returns a shallow copy. Mutating the copy never affects the original.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Identity returns the record identity: the docid value when present,
// otherwise an MD5 over the case-folded metadata object.
func (m Metadata) Identity(docidKey string) string {
	if id := m.DocID(docidKey); id != "" {
		return id
	}
	return m.FoldedHash()
}

// FoldedHash computes an MD5 hex digest over the case-folded, key-sorted
// metadata. Equal metadata modulo case yields equal hashes.
func (m Metadata) FoldedHash() string {
	// Fold before sorting so key case never changes the pair order.
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, strings.ToLower(k)+"="+strings.ToLower(v))
	}
	sort.Strings(pairs)

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p)
		b.WriteByte(';')
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
