package utils

import (
	"testing"
)

func TestDeviceToken(t *testing.T) {
	secret := "test-secret-key-12345"

	token, err := GenerateDeviceToken("device-042", secret)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("Token should not be empty")
	}

	// Validation (Success)
	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims["device_id"] != "device-042" {
		t.Errorf("Expected device_id device-042, got %v", claims["device_id"])
	}
	if claims["type"] != "device" {
		t.Errorf("Expected type device, got %v", claims["type"])
	}

	// Validation (Wrong Secret)
	if _, err := ValidateToken(token, "wrong-secret"); err == nil {
		t.Error("Token signed with a different secret should not validate")
	}

	// Validation (Garbage)
	if _, err := ValidateToken("not.a.token", secret); err == nil {
		t.Error("Malformed token should not validate")
	}
}
