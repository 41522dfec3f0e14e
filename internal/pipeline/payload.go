package pipeline

import (
	"encoding/json"
	"fmt"
)

// StorePayload is the input to the store stage.
type StorePayload struct {
	SourcePath string `json:"source_path"`
}

// TranscribePayload is the input to the transcribe stage. SourcePath is the
// local working copy; the stored locator is already on the item.
type TranscribePayload struct {
	SourcePath string `json:"source_path"`
}

// The embed and summarize stages read their input from the item record, so
// their tasks carry no payload.

func marshalPayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return data, nil
}

func unmarshalPayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return nil
}
