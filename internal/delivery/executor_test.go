package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/domain"
	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"github.com/kursadbilgin/webhook-relay/internal/signature"
	"go.uber.org/zap"
)

type memoryAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]*domain.DeliveryAttempt
}

func newMemoryAttemptRepo() *memoryAttemptRepo {
	return &memoryAttemptRepo{attempts: make(map[string]*domain.DeliveryAttempt)}
}

func (r *memoryAttemptRepo) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	r.attempts[a.ID] = &copied
	return nil
}

func (r *memoryAttemptRepo) GetByID(_ context.Context, id string) (*domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (r *memoryAttemptRepo) List(context.Context, repository.ListAttemptsParams) ([]domain.DeliveryAttempt, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (r *memoryAttemptRepo) MarkSuccess(_ context.Context, id string, responseCode int, responseBody string, deliveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	attempt.Status = domain.DeliveryStatusSuccess
	attempt.ResponseCode = &responseCode
	attempt.ResponseBody = &responseBody
	attempt.Error = nil
	attempt.DeliveredAt = &deliveredAt
	return nil
}

func (r *memoryAttemptRepo) MarkFailed(_ context.Context, id string, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if attempt.Status == domain.DeliveryStatusSuccess {
		return domain.ErrConflict
	}
	attempt.Status = domain.DeliveryStatusFailed
	attempt.Error = &errText
	return nil
}

func (r *memoryAttemptRepo) IncrementRetryCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	attempt.RetryCount++
	return nil
}

func (r *memoryAttemptRepo) CountByStatus(context.Context, *string) ([]repository.StatusCount, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryAttemptRepo) CountByEvent(context.Context, *string) ([]repository.EventCount, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryAttemptRepo) MarkStalePendingFailed(context.Context, time.Time, string) (int64, error) {
	return 0, errors.New("not implemented")
}

type recordedOutcome struct {
	subscriptionID string
	success        bool
	errText        string
}

type fakeHealthRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (f *fakeHealthRecorder) RecordOutcome(_ context.Context, subscriptionID string, success bool, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recordedOutcome{subscriptionID, success, errText})
	return nil
}

func (f *fakeHealthRecorder) last(t *testing.T) recordedOutcome {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		t.Fatal("no outcomes recorded")
	}
	return f.outcomes[len(f.outcomes)-1]
}

func newTestExecutor(t *testing.T, attempts *memoryAttemptRepo, health *fakeHealthRecorder) *Executor {
	t.Helper()

	executor, err := NewExecutor(attempts, health, 2*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	executor.sleep = func(context.Context, time.Duration) error { return nil }
	executor.randIntn = func(int) int { return 0 }
	return executor
}

func testSubscription(target string) domain.Subscription {
	return domain.Subscription{
		ID:        "sub-1",
		TargetURL: target,
		Events:    domain.EventSet{domain.EventWildcard},
		Secret:    "shared-secret",
		Active:    true,
	}
}

func TestDeliverSuccessSignsPayload(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		gotBody = body
		gotHeaders = r.Header.Clone()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	health := &fakeHealthRecorder{}
	executor := newTestExecutor(t, attempts, health)

	sub := testSubscription(server.URL)
	env := domain.NewEnvelope(domain.EventVehicleCreated, map[string]any{"vehicleId": "v-1"}, time.Now())

	attempt, err := executor.Deliver(context.Background(), sub, env)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if attempt.Status != domain.DeliveryStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", attempt.Status)
	}
	if attempt.ResponseCode == nil || *attempt.ResponseCode != http.StatusOK {
		t.Fatalf("responseCode = %v, want 200", attempt.ResponseCode)
	}
	if attempt.DeliveredAt == nil {
		t.Fatal("expected deliveredAt set")
	}
	if attempt.Payload != string(gotBody) {
		t.Fatal("ledger payload and wire payload must be the same bytes")
	}

	// The subscriber must be able to verify the signature against the raw
	// request body.
	sig := gotHeaders.Get(HeaderSignature)
	if !signature.Verify(gotBody, sig, sub.Secret) {
		t.Fatal("signature did not verify against delivered body")
	}
	if gotHeaders.Get(HeaderEvent) != "vehicle.created" {
		t.Fatalf("event header = %q", gotHeaders.Get(HeaderEvent))
	}
	if gotHeaders.Get(HeaderTimestamp) != env.Timestamp {
		t.Fatalf("timestamp header = %q, want %q", gotHeaders.Get(HeaderTimestamp), env.Timestamp)
	}
	if gotHeaders.Get("User-Agent") != UserAgent {
		t.Fatalf("user-agent = %q, want %q", gotHeaders.Get("User-Agent"), UserAgent)
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", gotHeaders.Get("Content-Type"))
	}

	outcome := health.last(t)
	if !outcome.success || outcome.subscriptionID != "sub-1" {
		t.Fatalf("outcome = %+v, want success for sub-1", outcome)
	}
}

func TestDeliverRetriesTransientThenFails(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("subscriber boom"))
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	health := &fakeHealthRecorder{}
	executor := newTestExecutor(t, attempts, health)

	attempt, err := executor.Deliver(context.Background(), testSubscription(server.URL), domain.NewEnvelope(domain.EventPaymentFailed, nil, time.Now()))
	if err == nil {
		t.Fatal("expected delivery error")
	}

	mu.Lock()
	got := requests
	mu.Unlock()
	if got != 3 {
		t.Fatalf("requests = %d, want 3 automatic attempts", got)
	}

	if attempt.Status != domain.DeliveryStatusFailed {
		t.Fatalf("status = %s, want FAILED", attempt.Status)
	}
	if attempt.Error == nil || !strings.Contains(*attempt.Error, "500") {
		t.Fatalf("error = %v, want status 500 mentioned", attempt.Error)
	}

	outcome := health.last(t)
	if outcome.success {
		t.Fatal("expected failure outcome")
	}
}

func TestDeliverPermanentErrorSingleAttempt(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	executor := newTestExecutor(t, attempts, &fakeHealthRecorder{})

	attempt, err := executor.Deliver(context.Background(), testSubscription(server.URL), domain.NewEnvelope(domain.EventVehicleDeleted, nil, time.Now()))
	if err == nil {
		t.Fatal("expected delivery error")
	}

	mu.Lock()
	got := requests
	mu.Unlock()
	if got != 1 {
		t.Fatalf("requests = %d, want 1 for permanent status", got)
	}
	if attempt.Status != domain.DeliveryStatusFailed {
		t.Fatalf("status = %s, want FAILED", attempt.Status)
	}
}

func TestDeliverTruncatesResponseBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", domain.MaxResponseBodyBytes+500)))
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	executor := newTestExecutor(t, attempts, &fakeHealthRecorder{})

	attempt, err := executor.Deliver(context.Background(), testSubscription(server.URL), domain.NewEnvelope(domain.EventVehicleCreated, nil, time.Now()))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if attempt.ResponseBody == nil {
		t.Fatal("expected response body stored")
	}
	if len(*attempt.ResponseBody) != domain.MaxResponseBodyBytes {
		t.Fatalf("stored body length = %d, want %d", len(*attempt.ResponseBody), domain.MaxResponseBodyBytes)
	}
}

func TestDeliverInvalidTargetFailsWithoutRequest(t *testing.T) {
	t.Parallel()

	attempts := newMemoryAttemptRepo()
	health := &fakeHealthRecorder{}
	executor := newTestExecutor(t, attempts, health)

	attempt, err := executor.Deliver(context.Background(), testSubscription("not a url"), domain.NewEnvelope(domain.EventVehicleCreated, nil, time.Now()))
	if err == nil {
		t.Fatal("expected error for malformed target")
	}
	if IsTransient(err) {
		t.Fatal("malformed target must be permanent")
	}
	if attempt.Status != domain.DeliveryStatusFailed {
		t.Fatalf("status = %s, want FAILED", attempt.Status)
	}
}

func TestRedeliverReusesStoredPayload(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		shouldFail := fail
		mu.Unlock()

		if shouldFail {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	executor := newTestExecutor(t, attempts, &fakeHealthRecorder{})

	sub := testSubscription(server.URL)
	failed, err := executor.Deliver(context.Background(), sub, domain.NewEnvelope(domain.EventVehicleSold, map[string]any{"vehicleId": "v-2"}, time.Now()))
	if err == nil {
		t.Fatal("expected initial delivery to fail")
	}
	if failed.Status != domain.DeliveryStatusFailed {
		t.Fatalf("status = %s, want FAILED", failed.Status)
	}

	mu.Lock()
	fail = false
	mu.Unlock()

	redelivered, err := executor.Redeliver(context.Background(), sub, failed)
	if err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}

	if redelivered.ID != failed.ID {
		t.Fatal("redelivery must mutate the same ledger entry")
	}
	if redelivered.Status != domain.DeliveryStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", redelivered.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	if bodies[0] != bodies[1] {
		t.Fatal("redelivery must reuse the exact stored payload bytes")
	}
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	executor := newTestExecutor(t, newMemoryAttemptRepo(), &fakeHealthRecorder{})

	if d := executor.retryDelay(1); d != time.Second {
		t.Fatalf("delay(1) = %s, want 1s", d)
	}
	if d := executor.retryDelay(2); d != 2*time.Second {
		t.Fatalf("delay(2) = %s, want 2s", d)
	}
	if d := executor.retryDelay(10); d != maxRetryDelay {
		t.Fatalf("delay(10) = %s, want cap %s", d, maxRetryDelay)
	}
}

type faultyLimiter struct {
	err error
}

func (f *faultyLimiter) Allow(context.Context, string) (bool, error) { return false, f.err }
func (f *faultyLimiter) Wait(context.Context, string) error          { return f.err }

func TestDeliverLimiterFaultSkipsHealthOutcome(t *testing.T) {
	t.Parallel()

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	attempts := newMemoryAttemptRepo()
	health := &fakeHealthRecorder{}
	executor := newTestExecutor(t, attempts, health)
	executor.SetRateLimiter(&faultyLimiter{err: errors.New("redis unavailable")})

	sub := testSubscription(server.URL)
	env := domain.NewEnvelope(domain.EventVehicleSold, map[string]any{"vehicleId": "v-3"}, time.Now())

	attempt, err := executor.Deliver(context.Background(), sub, env)
	if err == nil {
		t.Fatal("expected limiter fault to surface as an error")
	}
	if !strings.Contains(err.Error(), "rate limiter") {
		t.Fatalf("error = %v, want rate limiter fault", err)
	}

	if atomic.LoadInt32(&requests) != 0 {
		t.Fatalf("requests = %d, want none before the limiter", requests)
	}

	stored, getErr := attempts.GetByID(context.Background(), attempt.ID)
	if getErr != nil {
		t.Fatalf("GetByID() error = %v", getErr)
	}
	if stored.Status != domain.DeliveryStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}

	// An executor-side fault is not the subscriber's failure: the streak
	// must stay untouched.
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.outcomes) != 0 {
		t.Fatalf("outcomes = %d, want none", len(health.outcomes))
	}
}
