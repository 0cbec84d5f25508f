package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-call-pipeline/pkg/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateInput is the caller-supplied metadata for a new call.
// RecordedAt must be RFC3339.
type CreateInput struct {
	Title        string   `json:"title" validate:"required,max=300"`
	RecordedAt   string   `json:"recorded_at" validate:"required"`
	Participants []string `json:"participants" validate:"max=50,dive,max=200"`
	CallType     string   `json:"call_type" validate:"max=64"`
	AudioRef     string   `json:"audio_ref" validate:"max=1024"`

	ContactName string `json:"contact_name" validate:"max=200"`
	Company     string `json:"company" validate:"max=200"`
	CRMDealID   string `json:"crm_deal_id" validate:"max=200"`
	ExternalID  string `json:"external_id" validate:"max=200"`
}

// Service owns call creation and the read side (detail/list).
// Status changes belong to the pipeline stages, never to this service.
type Service struct {
	store    Store
	validate *validator.Validate
	clock    func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, validate: validator.New(), clock: time.Now}
}

// Validate checks in without creating anything, so callers can reject bad
// metadata before storing an upload.
func (s *Service) Validate(in CreateInput) error {
	_, _, err := s.normalize(in)
	return err
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Call, error) {
	in, recordedAt, err := s.normalize(in)
	if err != nil {
		return Call{}, err
	}

	now := s.clock().UTC()
	c := Call{
		ID:           uuid.NewString(),
		Title:        in.Title,
		RecordedAt:   recordedAt.UTC(),
		Participants: cleanParticipants(in.Participants),
		CallType:     strings.TrimSpace(in.CallType),
		Status:       StatusNew,
		AudioRef:     strings.TrimSpace(in.AudioRef),
		ContactName:  strings.TrimSpace(in.ContactName),
		Company:      strings.TrimSpace(in.Company),
		CRMDealID:    strings.TrimSpace(in.CRMDealID),
		ExternalID:   strings.TrimSpace(in.ExternalID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.store.Create(ctx, c)
}

// Get returns the call with whatever artifacts currently exist.
func (s *Service) Get(ctx context.Context, id string) (CallDetail, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	t, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	logs, err := s.store.ListSyncLog(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	return CallDetail{Call: c, Transcript: t, Analysis: a, SyncLog: logs}, nil
}

// List returns calls in insertion order. An empty rawStatus lists everything.
func (s *Service) List(ctx context.Context, rawStatus string) ([]Call, error) {
	var f ListFilter
	if strings.TrimSpace(rawStatus) != "" {
		st, err := ParseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}
	return s.store.List(ctx, f)
}

func (s *Service) normalize(in CreateInput) (CreateInput, time.Time, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.RecordedAt = strings.TrimSpace(in.RecordedAt)
	if err := s.validate.Struct(in); err != nil {
		return in, time.Time{}, validationError(err)
	}
	recordedAt, err := time.Parse(time.RFC3339, in.RecordedAt)
	if err != nil {
		return in, time.Time{}, apperr.Validation(fmt.Sprintf("recorded_at must be RFC3339: %q", in.RecordedAt))
	}
	return in, recordedAt, nil
}

// SplitParticipants parses a comma separated form value.
func SplitParticipants(raw string) []string {
	return cleanParticipants(strings.Split(raw, ","))
}

func cleanParticipants(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return apperr.Validation(err.Error())
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return apperr.Validation("invalid call: " + strings.Join(parts, ", "))
}
