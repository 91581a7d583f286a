package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Base32 alphabet used by warehouse item labels (0-9, A-Z).
const itemCodeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ScanKind classifies what a handheld scanner read.
type ScanKind string

const (
	ScanKindItem ScanKind = "item" // internal item label with serial + reference
	ScanKindEAN  ScanKind = "ean"  // retail EAN-13/UPC-A barcode
	ScanKindSKU  ScanKind = "sku"  // anything else, treated as a literal SKU
)

// ScanData is the normalized result of one barcode read. SKU is always set:
// it is the value checklist lines are matched against.
type ScanData struct {
	Kind   ScanKind `json:"kind"`
	SKU    string   `json:"sku"`
	Serial string   `json:"serial,omitempty"` // item labels only
}

// ParseScan normalizes a raw barcode into a checklist-matchable SKU.
//
// Item labels start with 'i'; the second character encodes (base32) how many
// trailing characters are the product reference, the rest is the unit serial.
// Pure-digit codes of EAN/UPC length are validated by check digit. Everything
// else passes through as a literal SKU so manual entry keeps working.
func ParseScan(code string) (*ScanData, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("empty barcode")
	}

	if strings.HasPrefix(strings.ToLower(code), "i") && len(code) >= 3 {
		return parseItemLabel(strings.ToUpper(code))
	}

	if isDigits(code) && (len(code) == 13 || len(code) == 12 || len(code) == 8) {
		if !validEANCheckDigit(code) {
			return nil, fmt.Errorf("EAN check digit mismatch for %q", code)
		}
		return &ScanData{Kind: ScanKindEAN, SKU: code}, nil
	}

	return &ScanData{Kind: ScanKindSKU, SKU: code}, nil
}

func parseItemLabel(code string) (*ScanData, error) {
	suffixLen := strings.IndexByte(itemCodeChars, code[1])
	if suffixLen < 0 {
		return nil, fmt.Errorf("invalid item label split char %q", code[1])
	}

	dataPart := code[2:]
	if len(dataPart) < suffixLen || suffixLen == 0 {
		return nil, errors.New("item label too short for its split length")
	}

	splitIdx := len(dataPart) - suffixLen
	return &ScanData{
		Kind:   ScanKindItem,
		Serial: dataPart[:splitIdx],
		SKU:    dataPart[splitIdx:],
	}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validEANCheckDigit verifies the GS1 modulo-10 check digit (EAN-8, UPC-A,
// EAN-13).
func validEANCheckDigit(code string) bool {
	sum := 0
	// Weights 3 and 1 alternate from the right, starting at 3 next to the
	// check digit.
	weight := 3
	for i := len(code) - 2; i >= 0; i-- {
		sum += int(code[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	check := (10 - sum%10) % 10
	return check == int(code[len(code)-1]-'0')
}
