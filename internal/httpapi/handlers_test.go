package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sales-call-pipeline/internal/analysis"
	"sales-call-pipeline/internal/audio"
	"sales-call-pipeline/internal/audit"
	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/internal/crm"
	"sales-call-pipeline/internal/pipeline"
	"sales-call-pipeline/internal/reporting"
	"sales-call-pipeline/internal/transcription"

	"github.com/gin-gonic/gin"
)

type testServer struct {
	router *gin.Engine
	store  *calls.MemoryRepo
	audio  *audio.LocalStore
}

func newTestServer(t *testing.T, cp crm.Provider) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cp == nil {
		cp = crm.Stub{Ref: "note-1"}
	}
	store := calls.NewMemoryRepo()
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	local, err := audio.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("audio store: %v", err)
	}

	h := Handlers{
		Calls:    calls.NewService(store),
		Pipeline: pipeline.NewService(store, transcription.Stub{}, analysis.Stub{}, cp, pipeline.WithAudit(auditSvc)),
		Audit:    auditSvc,
		Reports:  reporting.NewService(store),
		Audio:    local,
	}
	r := gin.New()
	h.Mount(r)
	return &testServer{router: r, store: store, audio: local}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createJSON(t *testing.T, payload map[string]any) calls.Call {
	t.Helper()
	b, _ := json.Marshal(payload)
	w := s.do(t, http.MethodPost, "/v1/calls", bytes.NewReader(b), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var c calls.Call
	decode(t, w, &c)
	return c
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestCreateCall_JSON(t *testing.T) {
	s := newTestServer(t, nil)

	c := s.createJSON(t, map[string]any{
		"title":        "Discovery with Acme",
		"recorded_at":  "2025-01-02T15:04:05Z",
		"participants": []string{"Ana", "Raj"},
		"audio_ref":    "acme.mp3",
	})
	if c.ID == "" || c.Status != calls.StatusNew || len(c.Participants) != 2 {
		t.Fatalf("unexpected call: %+v", c)
	}

	w := s.do(t, http.MethodGet, "/v1/calls/"+c.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var d calls.CallDetail
	decode(t, w, &d)
	if d.Transcript != nil || d.Analysis != nil || len(d.SyncLog) != 0 {
		t.Fatalf("expected bare detail, got %+v", d)
	}
}

func TestCreateCall_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{"title":`},
		{"missing title", `{"recorded_at":"2025-01-02T15:04:05Z"}`},
		{"bad timestamp", `{"title":"x","recorded_at":"yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/calls", strings.NewReader(tc.body), "application/json")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var body map[string]any
			decode(t, w, &body)
			if body["kind"] != "validation_error" {
				t.Fatalf("expected validation kind, got %v", body)
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("audio_file", fileName)
		if err != nil {
			t.Fatalf("file: %v", err)
		}
		_, _ = fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestCreateCall_MultipartStoresAudio(t *testing.T) {
	s := newTestServer(t, nil)

	body, ct := multipartBody(t, map[string]string{
		"title":        "Renewal",
		"recorded_at":  "2025-02-01T10:00:00+02:00",
		"participants": "Ana, Raj,,  Li ",
	}, "renewal call.mp3", []byte("ID3fake"))

	w := s.do(t, http.MethodPost, "/v1/calls", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var c calls.Call
	decode(t, w, &c)
	if len(c.Participants) != 3 || c.Participants[2] != "Li" {
		t.Fatalf("unexpected participants: %q", c.Participants)
	}
	if c.AudioRef == "" {
		t.Fatalf("expected audio ref to be recorded")
	}
	rc, err := s.audio.Open(t.Context(), c.AudioRef)
	if err != nil {
		t.Fatalf("open stored audio: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != "ID3fake" {
		t.Fatalf("unexpected stored bytes %q", got)
	}
}

func TestCreateCall_MultipartRejectsUnsupportedFile(t *testing.T) {
	s := newTestServer(t, nil)

	body, ct := multipartBody(t, map[string]string{
		"title":       "Renewal",
		"recorded_at": "2025-02-01T10:00:00Z",
	}, "notes.txt", []byte("hi"))

	w := s.do(t, http.MethodPost, "/v1/calls", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	list, _ := s.store.List(t.Context(), calls.ListFilter{})
	if len(list) != 0 {
		t.Fatalf("expected no call to be created")
	}
}

func TestListCalls_OrderAndFilter(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})
	b := s.createJSON(t, map[string]any{"title": "B", "recorded_at": "2025-01-01T15:04:05Z"})

	if w := s.do(t, http.MethodPost, "/v1/calls/"+a.ID+"/transcribe", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("transcribe: %d %s", w.Code, w.Body.String())
	}

	var all struct {
		Items []calls.Call `json:"items"`
		Count int          `json:"count"`
	}
	decode(t, s.do(t, http.MethodGet, "/v1/calls", nil, ""), &all)
	if all.Count != 2 || all.Items[0].ID != a.ID || all.Items[1].ID != b.ID {
		t.Fatalf("expected insertion order, got %+v", all.Items)
	}

	var filtered struct {
		Items []calls.Call `json:"items"`
	}
	decode(t, s.do(t, http.MethodGet, "/v1/calls?status=transcribed", nil, ""), &filtered)
	if len(filtered.Items) != 1 || filtered.Items[0].ID != a.ID {
		t.Fatalf("unexpected filter result: %+v", filtered.Items)
	}

	if w := s.do(t, http.MethodGet, "/v1/calls?status=DONE", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestStages_StatusCodes(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})
	noAudio := s.createJSON(t, map[string]any{"title": "B", "recorded_at": "2025-01-02T15:04:05Z"})

	steps := []struct {
		path string
		want int
		kind string
	}{
		{"/v1/calls/missing/transcribe", http.StatusNotFound, "not_found"},
		{"/v1/calls/" + noAudio.ID + "/transcribe", http.StatusUnprocessableEntity, "precondition_failed"},
		{"/v1/calls/" + c.ID + "/analyze", http.StatusUnprocessableEntity, "precondition_failed"},
		{"/v1/calls/" + c.ID + "/transcribe", http.StatusOK, ""},
		{"/v1/calls/" + c.ID + "/transcribe", http.StatusConflict, "conflict"},
		{"/v1/calls/" + c.ID + "/sync-crm", http.StatusUnprocessableEntity, "precondition_failed"},
		{"/v1/calls/" + c.ID + "/analyze", http.StatusOK, ""},
		{"/v1/calls/" + c.ID + "/sync-crm", http.StatusOK, ""},
		{"/v1/calls/" + c.ID + "/sync-crm", http.StatusOK, ""},
	}
	for _, st := range steps {
		w := s.do(t, http.MethodPost, st.path, nil, "")
		if w.Code != st.want {
			t.Fatalf("%s: expected %d, got %d: %s", st.path, st.want, w.Code, w.Body.String())
		}
		var body map[string]any
		decode(t, w, &body)
		if st.kind != "" && body["kind"] != st.kind {
			t.Fatalf("%s: expected kind %s, got %v", st.path, st.kind, body)
		}
		if st.kind == "" && body["artifact"] == nil {
			t.Fatalf("%s: expected artifact, got %v", st.path, body)
		}
	}

	var d calls.CallDetail
	decode(t, s.do(t, http.MethodGet, "/v1/calls/"+c.ID, nil, ""), &d)
	if d.Call.Status != calls.StatusSynced || len(d.SyncLog) != 2 {
		t.Fatalf("expected SYNCED with 2 sync entries, got %s / %d", d.Call.Status, len(d.SyncLog))
	}
}

func TestSyncCRM_ProviderFailure(t *testing.T) {
	s := newTestServer(t, crm.Stub{Err: errors.New("crm unavailable")})
	c := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})
	s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/transcribe", nil, "")
	s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/analyze", nil, "")

	w := s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/sync-crm", nil, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status   calls.Status       `json:"status"`
		Artifact calls.SyncLogEntry `json:"artifact"`
		Kind     string             `json:"kind"`
	}
	decode(t, w, &body)
	if body.Status != calls.StatusAnalyzed || body.Kind != "provider_error" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Artifact.Outcome != calls.SyncOutcomeFailure {
		t.Fatalf("expected failed entry, got %+v", body.Artifact)
	}
}

func TestProcess(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})

	w := s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/process", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res pipeline.ProcessResult
	decode(t, w, &res)
	if res.FinalStatus != calls.StatusSynced || len(res.Stages) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, st := range res.Stages {
		if st.Outcome != pipeline.OutcomeRan {
			t.Fatalf("expected every stage to run, got %+v", res.Stages)
		}
	}

	if w := s.do(t, http.MethodPost, "/v1/calls/missing/process", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestProcess_StopsAtFailure(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createJSON(t, map[string]any{"title": "no audio", "recorded_at": "2025-01-02T15:04:05Z"})

	w := s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/process", nil, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Stages      []pipeline.StageResult `json:"stages"`
		FinalStatus calls.Status           `json:"final_status"`
		Error       string                 `json:"error"`
	}
	decode(t, w, &body)
	if body.FinalStatus != calls.StatusNew || body.Error == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Stages) != 3 || body.Stages[0].Outcome != pipeline.OutcomeFailed || body.Stages[2].Outcome != pipeline.OutcomeNotRun {
		t.Fatalf("unexpected stages: %+v", body.Stages)
	}
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})
	s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/transcribe", nil, "")

	var body struct {
		Items []audit.Event `json:"items"`
	}
	decode(t, s.do(t, http.MethodGet, "/v1/calls/"+c.ID+"/events", nil, ""), &body)
	if len(body.Items) < 3 || body.Items[0].Type != audit.EventTypeCallCreated {
		t.Fatalf("unexpected events: %+v", body.Items)
	}

	if w := s.do(t, http.MethodGet, "/v1/calls/missing/events", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestReports(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createJSON(t, map[string]any{"title": "A", "recorded_at": "2025-01-02T15:04:05Z", "audio_ref": "a.mp3"})
	s.createJSON(t, map[string]any{"title": "B", "recorded_at": "2025-01-02T15:04:05Z"})
	s.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/process", nil, "")

	w := s.do(t, http.MethodGet, "/v1/reports/summary", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	var sum reporting.Summary
	decode(t, w, &sum)
	if sum.TotalCalls != 2 || sum.ByStatus[calls.StatusSynced] != 1 || sum.SyncSuccesses != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	if w := s.do(t, http.MethodGet, "/v1/reports/summary?from=soon", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/v1/reports/calls.xlsx", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("xlsx: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != reporting.XLSXContentType {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	// xlsx is a zip archive.
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip payload")
	}
}
