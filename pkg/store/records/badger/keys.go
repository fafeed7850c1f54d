package badger

import (
	"fmt"
	"strconv"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Database Key Namespace Design
// ==============================
//
// Records are stored under prefixed keys so each data type gets its own
// namespace and directory listings become prefix scans.
//
// Key Namespace Prefixes:
//
// Data Type          Prefix    Key Format                     Value Type
// ===========================================================================
// Record             "r:"      r:<id>                         recordData (JSON)
// Children           "c:"      c:<parentID>:<childID>         empty
// Child by name      "cn:"     cn:<parentID>:<nameID>         childID (uint32)
// Name -> id         "n:"      n:<name>                       nameID (uint32)
// Id -> name         "ni:"     ni:<nameID>                    name (bytes)
// Roots              "root:"   root:<path>                    id (uint32)
// Deleted ids        "del:"    del:<id>                       empty
// Session            "meta:"   meta:session                   session id (bytes)
// Sequences          "seq:"    seq:records, seq:names         badger.Sequence
//
// Notes:
//
//  1. Ids are written in decimal. The trailing ':' in the children prefix
//     keeps c:1: from matching c:12:.
//  2. cn: is the uniqueness index for exact child names. Two children may
//     still differ only by case or normalization; those get distinct name
//     ids and therefore distinct cn: keys.
//  3. del: entries are never removed, so IsDeleted keeps answering for the
//     lifetime of the database. Ids come from a persistent sequence and
//     are never reused.

const (
	prefixRecord      = "r:"
	prefixChild       = "c:"
	prefixChildByName = "cn:"
	prefixName        = "n:"
	prefixNameID      = "ni:"
	prefixRoot        = "root:"
	prefixDeleted     = "del:"

	keySession     = "meta:session"
	keySeqRecords  = "seq:records"
	keySeqNames    = "seq:names"
	sequenceLeases = 128
)

func itoa(id vfs.FileID) string {
	return strconv.FormatInt(int64(id), 10)
}

func keyRecord(id vfs.FileID) []byte {
	return []byte(prefixRecord + itoa(id))
}

func keyChildPrefix(parent vfs.FileID) []byte {
	return []byte(prefixChild + itoa(parent) + ":")
}

func keyChild(parent, child vfs.FileID) []byte {
	return []byte(prefixChild + itoa(parent) + ":" + itoa(child))
}

func keyChildByName(parent vfs.FileID, nameID int32) []byte {
	return fmt.Appendf(nil, "%s%d:%d", prefixChildByName, parent, nameID)
}

func keyName(name string) []byte {
	return []byte(prefixName + name)
}

func keyNameID(nameID int32) []byte {
	return fmt.Appendf(nil, "%s%d", prefixNameID, nameID)
}

func keyRoot(path string) []byte {
	return []byte(prefixRoot + path)
}

func keyDeleted(id vfs.FileID) []byte {
	return []byte(prefixDeleted + itoa(id))
}

// childIDFromKey parses the child id out of a c:<parent>:<child> key.
func childIDFromKey(key []byte, prefixLen int) (vfs.FileID, error) {
	n, err := strconv.ParseInt(string(key[prefixLen:]), 10, 32)
	if err != nil {
		return vfs.InvalidID, fmt.Errorf("malformed child key %q: %w", key, err)
	}
	return vfs.FileID(n), nil
}
