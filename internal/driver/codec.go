package driver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamicool/PPD/internal/core/model"
)

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// rows written by other tools may use plain RFC 3339
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func encodeProperties(p model.Properties) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(data), nil
}

func decodeProperties(s string) (model.Properties, error) {
	props := model.Properties{}
	if s == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	if props == nil {
		props = model.Properties{}
	}
	return props, nil
}

func positionOf(n model.Node) model.Position {
	if n.Position == nil {
		return model.DefaultPosition
	}
	return *n.Position
}
