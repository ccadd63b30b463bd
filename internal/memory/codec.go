package memory

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// recordAPI keeps encoding/json semantics (sorted map keys, HTML escaping)
// so files written by this service stay diffable and portable.
var recordAPI = sonic.ConfigStd

func encodeRecord(m UserMemory) ([]byte, error) {
	data, err := recordAPI.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode user memory %q: %w", m.UserID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (UserMemory, error) {
	var m UserMemory
	if err := recordAPI.Unmarshal(data, &m); err != nil {
		return UserMemory{}, fmt.Errorf("decode user memory: %w", err)
	}
	m.normalize()
	return m, nil
}

func encodePreferences(prefs map[string]string) (string, error) {
	if len(prefs) == 0 {
		return "{}", nil
	}
	data, err := recordAPI.Marshal(prefs)
	if err != nil {
		return "", fmt.Errorf("encode preferences: %w", err)
	}
	return string(data), nil
}

func decodePreferences(raw string) (map[string]string, error) {
	prefs := map[string]string{}
	if raw == "" {
		return prefs, nil
	}
	if err := recordAPI.UnmarshalFromString(raw, &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}
