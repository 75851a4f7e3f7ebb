package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/afaap/internal/auth"
	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/govern"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/pkg/types"
)

var testTokens = []auth.Token{
	{Token: "admin-token", ActorID: "root", Role: auth.RoleAdmin},
	{Token: "auditor-token", ActorID: "audrey", Role: auth.RoleAuditor},
	{Token: "officer-token", ActorID: "olivia", Role: auth.RoleOfficer},
	{Token: "dev-token", ActorID: "dana", Role: auth.RoleDeveloper},
	{Token: "ingest-token", ActorID: "scorer", Role: auth.RoleIngest},
}

type testServer struct {
	router http.Handler
	svc    *govern.Service
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	loaded, err := policy.LoadPolicy("", policy.Overrides{})
	require.NoError(t, err)
	authn, err := auth.NewTokenAuthenticator(testTokens, "")
	require.NoError(t, err)

	ts := &testServer{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }
	l := ledger.New(ledger.NewInMemoryStore(), ledger.WithClock(clock))
	ts.svc = govern.New(entity.NewInMemoryStore(), l, loaded, govern.WithClock(clock))
	ts.router = NewRouter(&Handler{Auth: authn, Service: ts.svc, Now: clock})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	ts.router.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestV1RequiresBearer(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/v1/models/m1", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/v1/models/m1", "nope", nil).Code)
}

func TestRoleTableIsEnforced(t *testing.T) {
	ts := newTestServer(t)
	model := map[string]any{"model_id": "m1", "f1": 0.9, "f1_ci_lower": 0.88, "f1_ci_upper": 0.92, "fpr": 0.005, "fpr_ci_upper": 0.008}

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/models", "ingest-token", model).Code)
	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/models", "dev-token", model).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/models/m1/approve", "dev-token", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/sla/violations", "dev-token", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/ledger/models/m1/verify", "officer-token", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/ledger/entries", "auditor-token", map[string]any{}).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/models/m1", "ingest-token", nil).Code)
}

func TestModelLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	model := map[string]any{"model_id": "m1", "f1": 0.9, "f1_ci_lower": 0.88, "f1_ci_upper": 0.92, "fpr": 0.005, "fpr_ci_upper": 0.008}
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/models", "dev-token", model).Code)

	res := ts.do(t, http.MethodPost, "/v1/models/m1/evaluate", "dev-token", nil)
	require.Equal(t, http.StatusOK, res.Code)
	blocked := decodeBody[map[string]any](t, res)
	assert.Equal(t, false, blocked["admitted"])
	assert.Equal(t, []any{"model not approved"}, blocked["failing_criteria"])

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/models/m1/approve", "officer-token", nil).Code)
	res = ts.do(t, http.MethodPost, "/v1/models/m1/evaluate", "officer-token", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, res)["admitted"])

	got := decodeBody[types.Model](t, ts.do(t, http.MethodGet, "/v1/models/m1", "dev-token", nil))
	assert.Equal(t, types.DeploymentAdmitted, got.DeploymentState)
	assert.True(t, got.Approved)

	res = ts.do(t, http.MethodGet, "/v1/ledger/models/m1/verify", "auditor-token", nil)
	require.Equal(t, http.StatusOK, res.Code)
	verify := decodeBody[types.VerifyResult](t, res)
	assert.True(t, verify.Valid)
	assert.Equal(t, 4, verify.Entries)
}

func TestDecisionReviewOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	decision := map[string]any{"decision_id": "d1", "model_id": "m1", "transaction_id": "t1", "predicted_fraud": true, "confidence": 0.95}

	res := ts.do(t, http.MethodPost, "/v1/decisions", "ingest-token", decision)
	require.Equal(t, http.StatusCreated, res.Code)
	d := decodeBody[types.Decision](t, res)
	assert.Equal(t, types.RiskHigh, d.RiskTier)
	assert.True(t, d.Held)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/decisions", "ingest-token", decision).Code)

	ts.now = ts.now.Add(2 * time.Hour)
	res = ts.do(t, http.MethodGet, "/v1/sla/violations", "officer-token", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"kind":"overdue"`)

	review := map[string]any{"review_decision": "block_transaction"}
	res = ts.do(t, http.MethodPost, "/v1/decisions/d1/review", "officer-token", review)
	require.Equal(t, http.StatusOK, res.Code)
	reviewed := decodeBody[types.Decision](t, res)
	require.NotNil(t, reviewed.SLAMet)
	assert.False(t, *reviewed.SLAMet)
	assert.Equal(t, "olivia", *reviewed.ReviewedBy)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/decisions/d1/review", "admin-token", review).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/decisions/missing/review", "officer-token", review).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/decisions/d1/review", "officer-token", map[string]any{"review_decision": "shrug"}).Code)
}

func TestHistoryIsRoleFiltered(t *testing.T) {
	ts := newTestServer(t)
	decision := map[string]any{"decision_id": "d1", "model_id": "m1", "transaction_id": "t1", "confidence": 0.6}
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/decisions", "ingest-token", decision).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/decisions/d1/review", "officer-token", map[string]any{"review_decision": "false_positive"}).Code)

	all := decodeBody[struct {
		Entries []types.LedgerEntry `json:"entries"`
	}](t, ts.do(t, http.MethodGet, "/v1/ledger/decisions/d1", "auditor-token", nil))
	own := decodeBody[struct {
		Entries []types.LedgerEntry `json:"entries"`
	}](t, ts.do(t, http.MethodGet, "/v1/ledger/decisions/d1", "officer-token", nil))

	require.NotEmpty(t, own.Entries)
	assert.Less(t, len(own.Entries), len(all.Entries))
	for _, e := range own.Entries {
		assert.Equal(t, "olivia", e.ActorID)
	}
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/ledger/decisions/none", "auditor-token", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/ledger/widgets/d1", "auditor-token", nil).Code)
}

func TestAppendEntryUsesAuthenticatedActor(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{
		"subject_table": "transactions",
		"subject_id":    "t9",
		"operation":     "FieldChange",
		"field":         "note",
		"new_value":     "chargeback filed",
	}
	res := ts.do(t, http.MethodPost, "/v1/ledger/entries", "admin-token", body)
	require.Equal(t, http.StatusCreated, res.Code)
	entry := decodeBody[types.LedgerEntry](t, res)
	assert.Equal(t, "root", entry.ActorID)
	assert.Nil(t, entry.PrevHash)

	body["field"] = nil
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/ledger/entries", "admin-token", body).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/ledger/entries", "admin-token", `{"actor_id":"spoof"}`).Code)
}

func TestVerifyTableOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"t1", "t2"} {
		tx := map[string]any{"transaction_id": id, "amount_cents": 1250, "currency": "EUR"}
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/transactions", "ingest-token", tx).Code)
	}
	res := ts.do(t, http.MethodGet, "/v1/ledger/transactions/verify", "auditor-token", nil)
	require.Equal(t, http.StatusOK, res.Code)
	out := decodeBody[struct {
		Valid   bool                 `json:"valid"`
		Results []types.VerifyResult `json:"results"`
	}](t, res)
	assert.True(t, out.Valid)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "t1", out.Results[0].SubjectID)
}

func TestInvalidJSONIsRejected(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/transactions", "ingest-token", "{").Code)
	tx := map[string]any{"transaction_id": "t1", "amount_cents": 10, "currency": "eur"}
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/transactions", "ingest-token", tx).Code)
}
