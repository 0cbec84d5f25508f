package calls

import "context"

// ListFilter narrows List. A nil Status returns every call.
type ListFilter struct {
	Status *Status
}

// Store is the persistence contract for calls and their artifacts.
//
// Invariants every implementation must hold:
//   - All writes for one call id are linearizable; two writers can never both
//     pass the same precondition.
//   - Artifact writes advance Status in the same atomic step, so status is
//     never ahead of (or behind) the artifacts that exist.
//   - Writes for different call ids never contend on a shared lock.
//   - List returns calls in insertion order.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)
	Get(ctx context.Context, id string) (Call, error)
	List(ctx context.Context, f ListFilter) ([]Call, error)

	// AttachTranscript fails with Conflict when a transcript exists and
	// advances the call to TRANSCRIBED.
	AttachTranscript(ctx context.Context, id string, t Transcript) (Call, error)
	// AttachAnalysis fails with Conflict when an analysis exists, with
	// Precondition when no transcript exists, and advances to ANALYZED.
	AttachAnalysis(ctx context.Context, id string, a Analysis) (Call, error)
	// AppendSyncLog fails with Precondition when no analysis exists. A
	// successful entry advances ANALYZED to SYNCED; a failed one leaves status.
	AppendSyncLog(ctx context.Context, id string, e SyncLogEntry) (Call, error)
	// UpdateStatus applies a single transition from the transition table.
	UpdateStatus(ctx context.Context, id string, next Status) (Call, error)

	GetTranscript(ctx context.Context, id string) (*Transcript, error)
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)
	ListSyncLog(ctx context.Context, id string) ([]SyncLogEntry, error)
}
