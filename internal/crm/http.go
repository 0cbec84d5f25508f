package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sales-call-pipeline/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	Retry      utils.RetryConfig
}

// HTTPClient talks to a REST CRM exposing POST /notes and POST /tasks.
// All requests share one rate limiter.
type HTTPClient struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(cfg HTTPConfig, client *http.Client) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("crm: base url is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
	}, nil
}

func (c *HTTPClient) Name() string { return "http" }

type noteRequest struct {
	CallID     string `json:"call_id"`
	DealID     string `json:"deal_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Contact    string `json:"contact_name,omitempty"`
	Company    string `json:"company,omitempty"`
	Content    string `json:"content"`
}

type taskRequest struct {
	NoteID      string `json:"note_id"`
	DealID      string `json:"deal_id,omitempty"`
	Description string `json:"description"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// Sync creates one note and one task per action item. A task failure after
// the note was created fails the whole sync; the note id is kept in the error.
func (c *HTTPClient) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	attempt := uuid.NewString()

	noteID, err := c.post(ctx, "/notes", attempt+":note", noteRequest{
		CallID:     req.Call.ID,
		DealID:     req.Call.CRMDealID,
		ExternalID: req.Call.ExternalID,
		Contact:    req.Call.ContactName,
		Company:    req.Call.Company,
		Content:    NoteContent(req),
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("crm: create note: %w", err)
	}

	taskIDs := make([]string, 0, len(req.Analysis.ActionItems))
	for i, item := range req.Analysis.ActionItems {
		id, err := c.post(ctx, "/tasks", fmt.Sprintf("%s:task:%d", attempt, i), taskRequest{
			NoteID:      noteID,
			DealID:      req.Call.CRMDealID,
			Description: item,
		})
		if err != nil {
			return SyncResult{}, fmt.Errorf("crm: create task %d (note %s): %w", i+1, noteID, err)
		}
		taskIDs = append(taskIDs, id)
	}

	return SyncResult{
		ExternalRef: noteID,
		Payload: map[string]any{
			"note_id":  noteID,
			"task_ids": taskIDs,
		},
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path

	var out createdResponse
	err = utils.Retry(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := utils.CheckResponse(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if out.ID == "" {
			return errors.New("response missing id")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}
