package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tachesure/escrow-service/internal/adapters/memory"
	"github.com/tachesure/escrow-service/internal/adapters/security"
	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/domain"
)

type testServer struct {
	router http.Handler
	repos  *memory.Repositories
	token  string
}

func newTestServer(t *testing.T, ready func(context.Context) error) *testServer {
	t.Helper()
	repos := memory.NewRepositories()
	repos.Tasks.PutTask("task-1", "open")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(application.Dependencies{
		Config:         application.Config{PersistenceRetryBackoff: time.Millisecond},
		Payments:       repos.Payments,
		Milestones:     repos.Milestones,
		Tasks:          repos.Tasks,
		Ledger:         repos.Ledger,
		Reconciliation: repos.Reconciliation,
		Signals:        repos.Signals,
		Outbox:         repos.Outbox,
		EventDedup:     repos.EventDedup,
		Idempotency:    repos.Idempotency,
		Logger:         logger,
	})
	verifier, err := security.NewHMACVerifier("router-test-secret", "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	token, err := verifier.Sign(security.Claims{Subject: "client-1", Role: "client"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &testServer{
		router: NewRouter(NewHandler(svc, verifier, logger, ready)),
		repos:  repos,
		token:  token,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(context.Context) error { return errors.New("db down") })
	if code, _ := s.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if code, env := s.do(t, http.MethodGet, "/readyz", nil, nil); code != http.StatusServiceUnavailable || env.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("readyz = %d %+v", code, env)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	s.token = ""
	code, env := s.do(t, http.MethodGet, "/v1/payments/p-1", nil, nil)
	if code != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %+v", code, env)
	}
	s.token = "forged"
	if code, _ = s.do(t, http.MethodGet, "/v1/payments/p-1", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", code)
	}
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodPost, "/v1/payments", createPaymentRequest{
		TaskID: "task-1", PayerID: "client-1", PayeeID: "tasker-1", Amount: 10000, PaymentMethod: "orange_money",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create = %d %+v", code, env)
	}
	created := decodeData[paymentView](t, env)
	if created.Status != "processing" || created.FeeAmount != 150 || created.NetAmount != 9850 || created.EscrowType != "full" {
		t.Fatalf("unexpected payment: %+v", created)
	}

	code, env = s.do(t, http.MethodGet, "/v1/payments/"+created.PaymentID, nil, nil)
	if code != http.StatusOK || decodeData[paymentView](t, env).PaymentID != created.PaymentID {
		t.Fatalf("get = %d %+v", code, env)
	}

	code, env = s.do(t, http.MethodPost, "/v1/payments/"+created.PaymentID+"/release", settlePaymentRequest{TaskID: "task-1"}, nil)
	if code != http.StatusOK {
		t.Fatalf("release = %d %+v", code, env)
	}
	if released := decodeData[paymentView](t, env); !released.EscrowReleased || released.Status != "completed" {
		t.Fatalf("unexpected released payment: %+v", released)
	}
	if task, _ := s.repos.Tasks.Get("task-1"); task.Status != domain.TaskStatusCompleted {
		t.Fatalf("task status = %s", task.Status)
	}

	code, env = s.do(t, http.MethodPost, "/v1/payments/"+created.PaymentID+"/release", settlePaymentRequest{TaskID: "task-1"}, nil)
	if code != http.StatusConflict || env.Code != "CONFLICT" {
		t.Fatalf("second release = %d %+v", code, env)
	}

	code, env = s.do(t, http.MethodGet, "/v1/tasks/task-1/escrow-summary", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("summary = %d", code)
	}
	if sum := decodeData[summaryView](t, env); sum.ReleasedNet != 9850 || sum.FeeTotal != 150 || sum.HeldAmount != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"same party", http.MethodPost, "/v1/payments", createPaymentRequest{TaskID: "task-1", PayerID: "a", PayeeID: "a", Amount: 10, PaymentMethod: "wave"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown method", http.MethodPost, "/v1/payments", createPaymentRequest{TaskID: "task-1", PayerID: "a", PayeeID: "b", Amount: 10, PaymentMethod: "paypal"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad json", http.MethodPost, "/v1/payments", map[string]any{"amount": "ten"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown payment", http.MethodGet, "/v1/payments/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown milestone", http.MethodPost, "/v1/milestones/missing/release", nil, http.StatusNotFound, "NOT_FOUND"},
		{"eligibility without method", http.MethodGet, "/v1/parties/p-1/payment-eligibility", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		code, env := s.do(t, tc.method, tc.path, tc.body, nil)
		if code != tc.status || env.Code != tc.code {
			t.Fatalf("%s: got %d %s (%s), want %d %s", tc.name, code, env.Code, env.Message, tc.status, tc.code)
		}
	}
}

func TestIdempotencyKeyReplay(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	body := createPaymentRequest{TaskID: "task-1", PayerID: "client-1", PayeeID: "tasker-1", Amount: 5000, PaymentMethod: "wave"}
	headers := map[string]string{"Idempotency-Key": "key-1"}

	_, first := s.do(t, http.MethodPost, "/v1/payments", body, headers)
	_, second := s.do(t, http.MethodPost, "/v1/payments", body, headers)
	if a, b := decodeData[paymentView](t, first).PaymentID, decodeData[paymentView](t, second).PaymentID; a == "" || a != b {
		t.Fatalf("replay returned a different payment: %q vs %q", a, b)
	}
	body.Amount = 6000
	code, env := s.do(t, http.MethodPost, "/v1/payments", body, headers)
	if code != http.StatusConflict || env.Code != "IDEMPOTENCY_CONFLICT" {
		t.Fatalf("reused key = %d %+v", code, env)
	}
	payments, _ := s.repos.Payments.ListByTask(context.Background(), "task-1")
	if len(payments) != 1 {
		t.Fatalf("expected exactly one payment, got %d", len(payments))
	}
}

func TestMilestoneFlowOverHTTP(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	code, env := s.do(t, http.MethodPost, "/v1/tasks/task-1/milestones", createMilestonesRequest{
		Milestones: []milestoneDraftBody{{Title: "Design", Amount: 3000}, {Title: "Build", Amount: 7000}},
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create milestones = %d %+v", code, env)
	}
	ms := decodeData[[]milestoneView](t, env)
	if len(ms) != 2 || ms[0].Position != 0 || ms[1].Position != 1 {
		t.Fatalf("unexpected milestones: %+v", ms)
	}
	for _, m := range ms {
		code, env = s.do(t, http.MethodPost, "/v1/milestones/"+m.MilestoneID+"/fund", fundMilestoneRequest{
			PayerID: "client-1", PayeeID: "tasker-1", Amount: m.Amount, PaymentMethod: "mtn_money",
		}, nil)
		if code != http.StatusOK {
			t.Fatalf("fund %s = %d %+v", m.Title, code, env)
		}
		code, env = s.do(t, http.MethodPost, "/v1/milestones/"+m.MilestoneID+"/release", nil, nil)
		if code != http.StatusOK || decodeData[milestoneView](t, env).Status != "released" {
			t.Fatalf("release %s = %d %+v", m.Title, code, env)
		}
	}
	if task, _ := s.repos.Tasks.Get("task-1"); task.Status != domain.TaskStatusCompleted {
		t.Fatalf("task status = %s", task.Status)
	}
	code, env = s.do(t, http.MethodGet, "/v1/tasks/task-1/milestones", nil, nil)
	if code != http.StatusOK || len(decodeData[[]milestoneView](t, env)) != 2 {
		t.Fatalf("list milestones = %d %+v", code, env)
	}
}

func TestTrustEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	code, env := s.do(t, http.MethodPost, "/v1/trust/score", trustFactorsBody{
		VerificationLevel:     "government",
		CompletedTasksCount:   30,
		AverageRating:         4.6,
		ResponseTimeMinutes:   10,
		CancelledTasksCount:   2,
		TotalTasksCount:       40,
		CommunityEndorsements: 3,
		HasBackgroundCheck:    true,
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("score = %d %+v", code, env)
	}
	if v := decodeData[trustView](t, env); v.Score != 81 || v.Level != "good" {
		t.Fatalf("unexpected score: %+v", v)
	}

	code, env = s.do(t, http.MethodGet, "/v1/parties/newcomer/trust", nil, nil)
	if code != http.StatusOK || decodeData[trustView](t, env).Level != "poor" {
		t.Fatalf("party trust = %d %+v", code, env)
	}
	code, env = s.do(t, http.MethodGet, "/v1/parties/newcomer/payment-eligibility?method=crypto", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("eligibility = %d %+v", code, env)
	}
	if e := decodeData[eligibilityView](t, env); e.Allowed || e.RequiredLevel != "good" {
		t.Fatalf("unexpected eligibility: %+v", e)
	}
}
