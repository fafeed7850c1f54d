package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Records are JSON so the database stays readable with badger's CLI tools.
// Ids stored as values use fixed 4-byte big-endian encoding.

type recordData struct {
	NameID         int32          `json:"name_id"`
	Parent         vfs.FileID     `json:"parent"`
	Attributes     vfs.Attributes `json:"attrs"`
	ChildrenCached bool           `json:"children_cached,omitempty"`
}

func encodeRecord(r *recordData) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*recordData, error) {
	var r recordData
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &r, nil
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func decodeUint32(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("invalid uint32 value: %d bytes", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
