package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DeviceIdentity is the stable identity of this handheld across restarts and
// app reinstalls. The server routes pushes and scopes claims by DeviceID, so
// it must never change once issued.
type DeviceIdentity struct {
	DeviceID string `json:"device_id"`
}

const identityDir = ".picksync"

// LoadOrGenerateDeviceID resolves the device id: an explicit env value wins,
// then the local persistence file, and finally a freshly generated id that is
// written back for next time.
func LoadOrGenerateDeviceID() (string, error) {
	if envID := os.Getenv("DEVICE_ID"); envID != "" {
		return envID, nil
	}

	identityFile := filepath.Join(identityDir, "device_identity.json")

	if data, err := os.ReadFile(identityFile); err == nil {
		var identity DeviceIdentity
		if err := json.Unmarshal(data, &identity); err == nil && identity.DeviceID != "" {
			return identity.DeviceID, nil
		}
	}

	identity := DeviceIdentity{DeviceID: "hh-" + uuid.NewString()}

	if err := os.MkdirAll(identityDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(identityFile, data, 0600); err != nil {
		return "", fmt.Errorf("failed to persist device identity: %w", err)
	}

	return identity.DeviceID, nil
}
