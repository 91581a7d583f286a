package utils

import (
	"testing"
)

func TestDecodeObjectOrEmpty(t *testing.T) {
	got := DecodeObjectOrEmpty([]byte(`{"qty": 3, "sku": "A-1"}`), "test")
	if got["sku"] != "A-1" {
		t.Errorf("Expected sku A-1, got %v", got["sku"])
	}

	// Malformed input degrades, never panics or fails.
	got = DecodeObjectOrEmpty([]byte(`{"qty": `), "test")
	if len(got) != 0 {
		t.Errorf("Malformed payload should degrade to empty map, got %v", got)
	}

	got = DecodeObjectOrEmpty(nil, "test")
	if got == nil || len(got) != 0 {
		t.Errorf("Empty payload should yield an empty map, got %v", got)
	}
}

func TestDecodeListOrEmpty(t *testing.T) {
	type line struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}

	lines := DecodeListOrEmpty[line]([]byte(`[{"sku":"A-1","qty":2},{"sku":"B-2","qty":1}]`), "test")
	if len(lines) != 2 || lines[1].SKU != "B-2" {
		t.Errorf("Unexpected decode result: %v", lines)
	}

	if got := DecodeListOrEmpty[line]([]byte(`[{`), "test"); got != nil {
		t.Errorf("Malformed list should degrade to nil, got %v", got)
	}

	if got := DecodeListOrEmpty[line](nil, "test"); got != nil {
		t.Errorf("Empty input should yield nil, got %v", got)
	}
}
