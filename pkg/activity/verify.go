package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// verifyLink checks event i against the previous hash. raw is the content as
// stored, which may differ byte-wise from a fresh json.Marshal: jsonb reorders
// keys and spaces them, and large numbers do not survive float64.
func verifyLink(i int, e *Event, prevHash string, raw []byte) error {
	if e.PrevHash != prevHash {
		return fmt.Errorf("event %d (%s): prev_hash mismatch: got %s, want %s", i, e.ID, e.PrevHash, prevHash)
	}
	remarshaled, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("event %d (%s): marshal content: %w", i, e.ID, err)
	}
	expected := computeHash(prevHash, e.ID, e.Type, e.TaskID, e.Actor, e.Timestamp, remarshaled)
	if e.Hash == expected {
		return nil
	}
	if raw != nil {
		if canon, err := canonicalJSON(raw); err == nil {
			if alt := computeHash(prevHash, e.ID, e.Type, e.TaskID, e.Actor, e.Timestamp, canon); e.Hash == alt {
				return nil
			}
		}
	}
	return fmt.Errorf("event %d (%s): hash mismatch: got %s, want %s", i, e.ID, e.Hash, expected)
}

// canonicalJSON re-encodes stored content the way Append marshaled it, with
// sorted keys and number literals kept verbatim.
func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
