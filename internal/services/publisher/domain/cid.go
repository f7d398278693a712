package domain

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// CIDIndex answers "which CID belongs to this terrain". Duplicate terrain ids
// keep the first entry, matching a front-to-back scan of the document.
type CIDIndex struct {
	byTerrain map[string]string
}

// NewCIDIndex indexes records in document order.
func NewCIDIndex(records []CidRecord) CIDIndex {
	index := CIDIndex{byTerrain: make(map[string]string, len(records))}
	for _, record := range records {
		if _, ok := index.byTerrain[record.TerrainID]; ok {
			continue
		}
		index.byTerrain[record.TerrainID] = record.CID
	}
	return index
}

// Lookup returns the first CID recorded for terrainID.
func (i CIDIndex) Lookup(terrainID string) (string, bool) {
	value, ok := i.byTerrain[terrainID]
	return value, ok
}

// Len returns the number of distinct terrain ids.
func (i CIDIndex) Len() int {
	return len(i.byTerrain)
}

// ValidateCID checks that value parses as a CIDv0 or CIDv1 string.
func ValidateCID(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("cid is empty")
	}
	if _, err := cid.Decode(value); err != nil {
		return fmt.Errorf("decode cid %q: %w", value, err)
	}
	return nil
}
