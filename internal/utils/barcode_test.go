package utils

import (
	"testing"
)

func TestParseScan_ItemLabel(t *testing.T) {
	// 'i' + 'D' (split 13) + serial "XYZ01" + 13-char reference
	data, err := ParseScan("iDXYZ014006381333931")
	if err != nil {
		t.Fatalf("Failed to parse item label: %v", err)
	}
	if data.Kind != ScanKindItem {
		t.Errorf("Expected item kind, got %s", data.Kind)
	}
	if data.Serial != "XYZ01" {
		t.Errorf("Expected serial XYZ01, got %s", data.Serial)
	}
	if data.SKU != "4006381333931" {
		t.Errorf("Expected SKU 4006381333931, got %s", data.SKU)
	}

	// Lowercase scanners normalize fine.
	data, err = ParseScan("idxyz014006381333931")
	if err != nil || data.SKU != "4006381333931" {
		t.Errorf("Lowercase item label should parse, got %v / %v", data, err)
	}

	// Split length longer than the payload is malformed.
	if _, err := ParseScan("iZ123"); err == nil {
		t.Error("Expected error for impossible split length")
	}
}

func TestParseScan_EAN(t *testing.T) {
	// Valid EAN-13.
	data, err := ParseScan("4006381333931")
	if err != nil {
		t.Fatalf("Failed to parse EAN: %v", err)
	}
	if data.Kind != ScanKindEAN || data.SKU != "4006381333931" {
		t.Errorf("Unexpected result: %+v", data)
	}

	// Corrupted check digit is rejected, not passed through as a SKU.
	if _, err := ParseScan("4006381333932"); err == nil {
		t.Error("Expected check digit error")
	}

	// Valid EAN-8.
	data, err = ParseScan("96385074")
	if err != nil || data.Kind != ScanKindEAN {
		t.Errorf("EAN-8 should validate, got %v / %v", data, err)
	}
}

func TestParseScan_FallbackSKU(t *testing.T) {
	data, err := ParseScan("  SKU-RED-42 ")
	if err != nil {
		t.Fatalf("Literal SKU should pass through: %v", err)
	}
	if data.Kind != ScanKindSKU || data.SKU != "SKU-RED-42" {
		t.Errorf("Unexpected result: %+v", data)
	}

	if _, err := ParseScan("   "); err == nil {
		t.Error("Expected error for empty barcode")
	}
}
