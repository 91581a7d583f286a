package utils

import (
	"sync"
	"time"
)

// Scanner guns double-fire: one trigger pull can deliver the same read twice
// within milliseconds. Each scan event carries a client-generated id; a
// repeat of a recent id is dropped instead of double-counting a pick.

const scanDedupeWindow = 5 * time.Minute

var (
	processedScans = make(map[string]time.Time)
	scanMu         sync.RWMutex
)

// IsDuplicateScan reports whether a scan event id was already processed
// recently. The first sighting of an id records it and returns false.
func IsDuplicateScan(scanID string) bool {
	if scanID == "" {
		return false
	}

	scanMu.RLock()
	timestamp, exists := processedScans[scanID]
	scanMu.RUnlock()

	if exists && time.Since(timestamp) < scanDedupeWindow {
		return true
	}

	scanMu.Lock()
	processedScans[scanID] = time.Now()

	// Cleanup old entries if map gets too big
	if len(processedScans) > 10000 {
		for k, v := range processedScans {
			if time.Since(v) > 2*scanDedupeWindow {
				delete(processedScans, k)
			}
		}
	}
	scanMu.Unlock()

	return false
}
