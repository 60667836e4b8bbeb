package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"receipt-ingest/internal/models"
	"receipt-ingest/internal/store"
)

type fakeStore struct {
	jobsByKey map[string]models.Job
	jobsByID  map[string]models.Job
	failed    map[string]string
	receipts  map[string]models.Receipt
	hits      []models.SearchHit
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobsByKey: make(map[string]models.Job),
		jobsByID:  make(map[string]models.Job),
		failed:    make(map[string]string),
		receipts:  make(map[string]models.Receipt),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, key, imageURI string) (models.Job, bool, error) {
	if existing, ok := s.jobsByKey[key]; ok {
		return existing, false, nil
	}
	s.nextID++
	job := models.Job{
		ID:             fmt.Sprintf("job-%d", s.nextID),
		IdempotencyKey: key,
		ImageURI:       imageURI,
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}
	s.jobsByKey[key] = job
	s.jobsByID[job.ID] = job
	return job, true, nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (models.Job, error) {
	job, ok := s.jobsByID[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) MarkJobFailed(_ context.Context, id, errText string) error {
	s.failed[id] = errText
	return nil
}

func (s *fakeStore) GetReceipt(_ context.Context, id string) (models.Receipt, error) {
	receipt, ok := s.receipts[id]
	if !ok {
		return models.Receipt{}, store.ErrNotFound
	}
	return receipt, nil
}

func (s *fakeStore) ListReceipts(_ context.Context, limit int) ([]models.Receipt, error) {
	out := make([]models.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SearchReceipts(_ context.Context, _ []float32, _ int) ([]models.SearchHit, error) {
	return s.hits, nil
}

type fakeEnqueuer struct {
	enqueued []string
	err      error
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, jobID string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

type fakeEmbedder struct{ err error }

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1}, nil
}

type fakeLimiter struct{ allowed bool }

func (l *fakeLimiter) Allow(context.Context, string) (bool, error) { return l.allowed, nil }

func ingestRequestBody(imageURI string) *strings.Reader {
	return strings.NewReader(fmt.Sprintf(`{"image_uri": %q}`, imageURI))
}

func TestIngestCreatesJobOnce(t *testing.T) {
	st := newFakeStore()
	enq := &fakeEnqueuer{}
	router := New(st, enq, nil, nil).Router()

	do := func() (*httptest.ResponseRecorder, ingestResponse) {
		req := httptest.NewRequest(http.MethodPost, "/receipts/ingest", ingestRequestBody("https://img/receipt.jpg"))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var out ingestResponse
		json.NewDecoder(rec.Body).Decode(&out)
		return rec, out
	}

	rec, first := do()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submit: status %d", rec.Code)
	}
	if !first.Created {
		t.Error("first submit should report created")
	}

	rec, second := do()
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate submit: status %d", rec.Code)
	}
	if second.Created {
		t.Error("duplicate submit should not report created")
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("duplicate returned different job: %q vs %q", second.Job.ID, first.Job.ID)
	}

	if len(enq.enqueued) != 1 {
		t.Errorf("expected exactly one enqueue, got %v", enq.enqueued)
	}
}

func TestIngestRequiresImageURI(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, nil, nil).Router()

	req := httptest.NewRequest(http.MethodPost, "/receipts/ingest", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestIngestEnqueueFailureFailsJob(t *testing.T) {
	st := newFakeStore()
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	router := New(st, enq, nil, nil).Router()

	req := httptest.NewRequest(http.MethodPost, "/receipts/ingest", ingestRequestBody("https://img/receipt.jpg"))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
	job := st.jobsByKey["key-1"]
	if text := st.failed[job.ID]; !strings.HasPrefix(text, "internal: enqueue failed") {
		t.Errorf("failure text: got %q", text)
	}
}

func TestIngestRateLimited(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, nil, &fakeLimiter{allowed: false}).Router()

	req := httptest.NewRequest(http.MethodPost, "/receipts/ingest", ingestRequestBody("https://img/receipt.jpg"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestGetJobRoundTrip(t *testing.T) {
	st := newFakeStore()
	router := New(st, &fakeEnqueuer{}, nil, nil).Router()

	job, _, _ := st.CreateJob(context.Background(), "key-1", "https://img/receipt.jpg")

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var out models.Job
	json.NewDecoder(rec.Body).Decode(&out)
	if out.ID != job.ID || out.Status != models.StatusPending {
		t.Errorf("job: got %+v", out)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/receipts/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, &fakeEmbedder{}, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/receipts/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestSearchReturnsHits(t *testing.T) {
	st := newFakeStore()
	st.hits = []models.SearchHit{{ReceiptID: "receipt-1", Content: "Test Cafe", Distance: 0.12}}
	router := New(st, &fakeEnqueuer{}, &fakeEmbedder{}, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/receipts/search?q=cafe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var out struct {
		Query   string             `json:"query"`
		Results []models.SearchHit `json:"results"`
	}
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Query != "cafe" || len(out.Results) != 1 || out.Results[0].ReceiptID != "receipt-1" {
		t.Errorf("search response: got %+v", out)
	}
}

func TestSearchWithoutEmbedder(t *testing.T) {
	router := New(newFakeStore(), &fakeEnqueuer{}, nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/receipts/search?q=cafe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", rec.Code)
	}
}
