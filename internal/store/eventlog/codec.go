package eventlog

import (
	"encoding/json"
	"time"
)

func encodePayload(payload map[string]string) (string, error) {
	if payload == nil {
		payload = map[string]string{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePayload(encoded string) (map[string]string, error) {
	if encoded == "" {
		return map[string]string{}, nil
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// clockSource returns the current wall-clock time in nanoseconds since
// epoch.
func clockSource() int64 {
	return time.Now().UnixNano()
}
