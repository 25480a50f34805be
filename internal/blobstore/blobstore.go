// Package blobstore persists uploaded document bytes in object storage.
//
// Objects are keyed tenant/agent/<unix>_<sanitized-name> so originals can
// be located and replayed per tenant.
package blobstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound indicates no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store saves and retrieves raw document bytes. Save returns the object
// key under which the data was stored.
type Store interface {
	Save(ctx context.Context, tenantID, agentID, fileName string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// asciiFold strips diacritics by NFKD decomposition followed by removal
// of combining marks.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// sanitizeFileName folds a file name to a safe ASCII object-key segment:
// diacritics are stripped, spaces become underscores, and anything outside
// letters, digits and "_.-+" is dropped. An empty result becomes "file".
func sanitizeFileName(name string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// buildObjectKey composes the storage key for an upload at time now.
func buildObjectKey(tenantID, agentID, fileName string, now time.Time) string {
	return tenantID + "/" + agentID + "/" + strconv.FormatInt(now.Unix(), 10) + "_" + sanitizeFileName(fileName)
}
