package local

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// WriteJSON atomically writes v as indented JSON to dir/name.
func WriteJSON(dir, name string, v any) (string, error) {
	p, err := safeJoin(dir, name)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", filepath.Base(p), err)
	}
	if err := WriteFileAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}
