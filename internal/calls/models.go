package calls

import "time"

// Call is a recorded sales call moving through the pipeline.
//
// Only Status changes after creation, and only through the Store's stage writes.
// AudioRef is an opaque reference owned by the audio storage collaborator.
type Call struct {
	ID    string `json:"id" db:"id"`
	Title string `json:"title" db:"title"`

	RecordedAt   time.Time `json:"recorded_at" db:"recorded_at"`
	Participants []string  `json:"participants" db:"participants"`
	CallType     string    `json:"call_type,omitempty" db:"call_type"`

	Status   Status `json:"status" db:"status"`
	AudioRef string `json:"audio_ref,omitempty" db:"audio_ref"`

	ContactName string `json:"contact_name,omitempty" db:"contact_name"`
	Company     string `json:"company,omitempty" db:"company"`
	CRMDealID   string `json:"crm_deal_id,omitempty" db:"crm_deal_id"`
	ExternalID  string `json:"external_id,omitempty" db:"external_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transcript is the immutable output of the transcription stage (1:1 with Call).
type Transcript struct {
	CallID     string         `json:"call_id" db:"call_id"`
	Text       string         `json:"text" db:"text"`
	Language   string         `json:"language,omitempty" db:"language"`
	Confidence *float64       `json:"confidence,omitempty" db:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// Analysis is the immutable output of the analysis stage (1:1 with Call).
// It can only exist once a Transcript exists.
type Analysis struct {
	CallID      string         `json:"call_id" db:"call_id"`
	Summary     []string       `json:"summary" db:"summary"`
	Risks       []string       `json:"risks" db:"risks"`
	ActionItems []string       `json:"action_items" db:"action_items"`
	FollowUp    string         `json:"follow_up" db:"follow_up"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomeFailure SyncOutcome = "failure"
)

// SyncLogEntry records one CRM sync attempt. Entries are append-only:
// every attempt adds a row, nothing is replaced.
type SyncLogEntry struct {
	ID          string         `json:"id" db:"id"`
	CallID      string         `json:"call_id" db:"call_id"`
	AttemptedAt time.Time      `json:"attempted_at" db:"attempted_at"`
	Outcome     SyncOutcome    `json:"outcome" db:"outcome"`
	ExternalRef *string        `json:"external_ref" db:"external_ref"`
	Error       *string        `json:"error" db:"error"`
	Payload     map[string]any `json:"payload,omitempty" db:"payload"`
}

// CallDetail is a Call with whatever artifacts currently exist.
type CallDetail struct {
	Call       Call           `json:"call"`
	Transcript *Transcript    `json:"transcript"`
	Analysis   *Analysis      `json:"analysis"`
	SyncLog    []SyncLogEntry `json:"sync_log"`
}
