package sync

import (
	"fmt"
	"time"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/remote"
)

// simultaneousWindow is the timestamp distance under which two equal-sequence
// versions are too close in time to infer intent safely.
const simultaneousWindow = 60 * time.Second

// ConflictResolver decides, for a local aggregate and an incoming remote
// snapshot, which side wins. It is a pure decision function: it never touches
// storage. Operation sequences are the authoritative signal because they
// count actual mutations and are immune to clock skew; wall-clock timestamps
// only break ties.
type ConflictResolver struct{}

// NewConflictResolver creates a conflict resolver.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve compares a local task against a remote snapshot.
//
// Decision order:
//  1. nothing pending locally -> remote wins
//  2. unequal sequences -> higher sequence wins
//  3. equal sequences with a drift flag -> compare remote advancement against
//     the local pending-operation count; escalate when neither side explains it
//  4. equal sequences, no drift -> timestamps, with a 60s escalation window
func (cr *ConflictResolver) Resolve(local *models.Task, snap *remote.TaskSnapshot) Decision {
	if local.SyncStatus == models.SyncStatusSynced {
		return Decision{Outcome: OutcomeUseRemote, Reason: "no local changes pending"}
	}

	if local.OperationSequence != snap.OperationSequence {
		if local.OperationSequence > snap.OperationSequence {
			return Decision{
				Outcome: OutcomeUseLocal,
				Reason: fmt.Sprintf("local sequence %d ahead of remote %d",
					local.OperationSequence, snap.OperationSequence),
			}
		}
		return Decision{
			Outcome: OutcomeUseRemote,
			Reason: fmt.Sprintf("remote sequence %d ahead of local %d",
				snap.OperationSequence, local.OperationSequence),
		}
	}

	if local.SyncStatus == models.SyncStatusPendingSyncWithDrift {
		return cr.resolveDrift(local, snap)
	}

	return cr.resolveByTimestamp(local, snap)
}

// resolveDrift handles equal sequences where the remote sequence previously
// jumped by more than this device's own unacknowledged work explains. The
// heuristic has edge cases under concurrent multi-device edits; Escalate is
// the safety valve.
func (cr *ConflictResolver) resolveDrift(local *models.Task, snap *remote.TaskSnapshot) Decision {
	remoteAdvance := snap.OperationSequence - local.LastKnownServerSequence
	pending := int64(len(local.PendingOperations()))

	switch {
	case remoteAdvance > pending:
		return Decision{
			Outcome: OutcomeUseRemote,
			Reason: fmt.Sprintf("remote advanced %d past last ack, local only explains %d",
				remoteAdvance, pending),
		}
	case remoteAdvance >= 0:
		return Decision{
			Outcome:        OutcomeUseLocal,
			PriorityResync: true,
			Reason: fmt.Sprintf("local pending operations (%d) still explain remote advancement (%d)",
				pending, remoteAdvance),
		}
	default:
		return Decision{
			Outcome: OutcomeEscalate,
			Reason: fmt.Sprintf("remote sequence regressed below last acknowledged (%d < %d)",
				snap.OperationSequence, local.LastKnownServerSequence),
		}
	}
}

// resolveByTimestamp breaks an equal-sequence tie by wall clock, escalating
// when the two versions are within the simultaneous window.
func (cr *ConflictResolver) resolveByTimestamp(local *models.Task, snap *remote.TaskSnapshot) Decision {
	diff := local.LocalModifiedAt.Sub(snap.LastModifiedAt)
	if diff < 0 {
		diff = -diff
	}

	if diff <= simultaneousWindow {
		return Decision{
			Outcome: OutcomeEscalate,
			Reason: fmt.Sprintf("same sequence, timestamps within %s of each other (%s apart)",
				simultaneousWindow, diff.Round(time.Second)),
		}
	}

	if local.LocalModifiedAt.After(snap.LastModifiedAt) {
		return Decision{Outcome: OutcomeUseLocal, Reason: "same sequence, local timestamp newer"}
	}
	return Decision{Outcome: OutcomeUseRemote, Reason: "same sequence, remote timestamp newer"}
}

// DetectDrift reports whether a remote snapshot's sequence advancement beyond
// the last acknowledged server sequence exceeds what the local queue
// explains, for a task with equal sequences. The pull phase flags such tasks
// before resolution. An advancement the queue fully or partly accounts for
// is not drift; the timestamp comparison settles those. Backwards
// advancement is flagged so the resolver escalates it.
func DetectDrift(local *models.Task, snap *remote.TaskSnapshot) bool {
	if local.SyncStatus == models.SyncStatusSynced {
		return false
	}
	if local.OperationSequence != snap.OperationSequence {
		return false
	}
	remoteAdvance := snap.OperationSequence - local.LastKnownServerSequence
	if remoteAdvance < 0 {
		return true
	}
	pending := int64(len(local.PendingOperations()))
	return remoteAdvance > pending
}
