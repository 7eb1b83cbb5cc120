// Package recordid provides a deterministic identifier for records.
package recordid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hyperjump/archivext/internal/models"
)

const prefix = "sig:"

// fieldSep cannot appear in typed text, so distinct field splits never collide.
const fieldSep = "\x1f"

// ID returns a stable identifier built from the identity fields of r.
// Records that are Equal share the same ID; status and responsible edits keep it.
func ID(r *models.Record) string {
	key := strings.Join([]string{r.Date, r.Author, r.Code, r.Flag, r.Description}, fieldSep)
	hash := sha256.Sum256([]byte(key))
	return prefix + hex.EncodeToString(hash[:16])
}

// Valid reports whether id looks like a value returned by ID.
func Valid(id string) bool {
	if !strings.HasPrefix(id, prefix) || len(id) != len(prefix)+32 {
		return false
	}
	_, err := hex.DecodeString(id[len(prefix):])
	return err == nil
}
