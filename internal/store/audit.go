package store

import (
	"fmt"

	"github.com/waregrid/picksync/internal/models"
)

// AppendAudit appends an immutable audit entry. The database assigns its
// local sequence (ID).
func (s *Store) AppendAudit(entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.SyncStatus == "" {
		entry.SyncStatus = models.AuditSyncPending
	}
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// FetchPendingAudits returns audit entries not yet acknowledged by the
// remote, in append order.
func (s *Store) FetchPendingAudits() ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := s.db.
		Where("sync_status IN ?", []models.AuditSyncStatus{models.AuditSyncPending, models.AuditSyncAwaitingAck}).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending audits: %w", err)
	}
	return entries, nil
}

// MarkAuditsAwaitingAck flags entries while a batch is in flight.
func (s *Store) MarkAuditsAwaitingAck(entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.AuditLogEntry{}).
		Where("entry_id IN ?", entryIDs).
		Update("sync_status", models.AuditSyncAwaitingAck).Error
}

// MarkAuditsSynced acknowledges delivered entries.
func (s *Store) MarkAuditsSynced(entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.AuditLogEntry{}).
		Where("entry_id IN ?", entryIDs).
		Update("sync_status", models.AuditSyncSynced).Error
}

// MarkAuditsPending reverts in-flight entries after a failed batch so the
// next cycle retries them.
func (s *Store) MarkAuditsPending(entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.AuditLogEntry{}).
		Where("entry_id IN ?", entryIDs).
		Update("sync_status", models.AuditSyncPending).Error
}
