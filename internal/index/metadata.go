package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// metadataFile is the JSON snapshot of the chunk metadata table. Entries
// are stored as an ordered list of [id, entry] pairs.
type metadataFile struct {
	NextChunkID int64          `json:"next_chunk_id"`
	Metadata    []metadataPair `json:"metadata"`
}

// metadataPair marshals as the two-element array [id, entry].
type metadataPair struct {
	ID    int64
	Entry Entry
}

func (p metadataPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ID, p.Entry})
}

func (p *metadataPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Entry)
}

// saveMetadata writes the metadata table with entries ordered by id.
func (s *Store) saveMetadata() error {
	pairs := make([]metadataPair, 0, len(s.entries))
	for id, entry := range s.entries {
		pairs = append(pairs, metadataPair{ID: id, Entry: entry})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })

	data, err := json.Marshal(metadataFile{
		NextChunkID: s.nextID,
		Metadata:    pairs,
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// loadMetadata restores the metadata table and next id from the snapshot
// when it exists; it reports whether a snapshot was found.
func (s *Store) loadMetadata() (bool, error) {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read metadata: %w", err)
	}

	var file metadataFile
	if err := json.Unmarshal(data, &file); err != nil {
		return false, fmt.Errorf("parse metadata: %w", err)
	}

	s.entries = make(map[int64]Entry, len(file.Metadata))
	for _, pair := range file.Metadata {
		s.entries[pair.ID] = pair.Entry
	}
	s.nextID = file.NextChunkID
	return true, nil
}
