package handlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/community-sacco/internal/analytics"
	"github.com/dvloznov/community-sacco/internal/api/middleware"
	"github.com/dvloznov/community-sacco/internal/auth"
	"github.com/dvloznov/community-sacco/internal/documents"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	jobsmem "github.com/dvloznov/community-sacco/internal/jobs/inmemory"
	"github.com/dvloznov/community-sacco/internal/loans"
	"github.com/dvloznov/community-sacco/internal/payments"
	"github.com/dvloznov/community-sacco/internal/savings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminCode = "let-me-in"

// MockGateway is a mock implementation of payments.Gateway.
type MockGateway struct {
	PushPaymentFunc func(ctx context.Context, req payments.PushRequest) (map[string]any, error)
}

func (m *MockGateway) PushPayment(ctx context.Context, req payments.PushRequest) (map[string]any, error) {
	return m.PushPaymentFunc(ctx, req)
}

var _ payments.Gateway = (*MockGateway)(nil)

type testAPI struct {
	handler http.Handler
	store   *inmemory.Store
}

func newTestAPI(t *testing.T, gateway payments.Gateway) *testAPI {
	t.Helper()
	log := zerolog.Nop()
	store := inmemory.NewStore()

	docs, err := documents.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokens("handler-test-secret", time.Hour)
	require.NoError(t, err)

	var initiator *payments.Initiator
	if gateway != nil {
		initiator = payments.NewInitiator(gateway, store, payments.InitiatorConfig{}, log)
	}

	set := &Set{
		Auth:      NewAuthHandler(auth.NewService(store, tokens, adminCode, log), log),
		Savings:   NewSavingsHandler(savings.NewService(store, nil, log), log),
		Loans:     NewLoansHandler(loans.NewService(store, docs, store, nil, false, log), 0, log),
		Payments:  NewPaymentsHandler(initiator, payments.NewReconciler(store, nil, log), true, log),
		Analytics: NewAnalyticsHandler(analytics.NewAggregator(store, nil, 0, log), log),
		Jobs:      NewJobsHandler(jobsmem.NewStore(), log),
	}
	return &testAPI{handler: middleware.Auth(tokens)(set.Routes()), store: store}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID      string `json:"id"`
		IsStaff bool   `json:"is_staff"`
	} `json:"user"`
}

func (a *testAPI) register(t *testing.T, username, role string) session {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":   username,
		"password":   "correct horse",
		"role":       role,
		"admin_code": adminCode,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var s session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	require.NotEmpty(t, s.Token)
	return s
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestAuthEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	member := api.register(t, "Mary", "member")
	assert.False(t, member.User.IsStaff)

	rec := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "mary", "password": "correct horse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "MARY", "password": "correct horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "mary", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "mary", "password": "correct horse", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "boss", "password": "correct horse", "role": "admin", "admin_code": "guess",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSavingsAndSummary(t *testing.T) {
	api := newTestAPI(t, nil)
	member := api.register(t, "mary", "member")

	rec := api.do(t, http.MethodGet, "/api/me/summary", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/savings", member.Token, map[string]interface{}{"amount": 1500.5, "notes": "March"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/savings", member.Token, map[string]interface{}{"amount": "-3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount", decodeMap(t, rec)["field"])

	rec = api.do(t, http.MethodGet, "/api/savings", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statement := decodeMap(t, rec)
	assert.Len(t, statement["records"], 1)

	rec = api.do(t, http.MethodGet, "/api/me/summary", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeMap(t, rec)
	assert.Equal(t, "None", summary["latest_loan_status"])
	assert.EqualValues(t, 0, summary["pending_transactions"])
	assert.Nil(t, summary["loan_limit"])

	rec = api.do(t, http.MethodGet, "/api/transactions", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "DEPOSIT", txs[0]["type"])
	assert.Equal(t, "COMPLETED", txs[0]["status"])
}

func loanForm(t *testing.T, withDocument bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Mary Wanjiku"))
	require.NoError(t, mw.WriteField("id_number", "12345678"))
	require.NoError(t, mw.WriteField("amount", "5000"))
	require.NoError(t, mw.WriteField("purpose", "School fees"))
	if withDocument {
		part, err := mw.CreateFormFile("document", "national-id.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 test"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (a *testAPI) submitLoan(t *testing.T, token string, withDocument bool) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := loanForm(t, withDocument)
	req := httptest.NewRequest(http.MethodPost, "/api/loans", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestLoanWorkflow(t *testing.T) {
	api := newTestAPI(t, nil)
	member := api.register(t, "mary", "member")
	admin := api.register(t, "boss", "admin")
	require.True(t, admin.User.IsStaff)

	rec := api.submitLoan(t, member.Token, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "document", decodeMap(t, rec)["field"])

	rec = api.submitLoan(t, member.Token, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan := decodeMap(t, rec)
	loanID := loan["id"].(string)
	assert.Equal(t, "PENDING", loan["status"])

	rec = api.do(t, http.MethodGet, "/api/loans", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeMap(t, rec)["count"])

	rec = api.do(t, http.MethodGet, "/api/admin/loans", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/admin/users/"+member.User.ID+"/loan-limit", admin.Token, map[string]string{"limit": "3000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, "/api/admin/users/nobody/loan-limit", admin.Token, map[string]string{"limit": "3000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/admin/loans", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decodeMap(t, rec)
	pending := overview["pending_loans"].([]interface{})
	require.Len(t, pending, 1)
	assert.Equal(t, true, pending[0].(map[string]interface{})["exceeds_limit"])

	decision := "/api/admin/loans/" + loanID + "/decision"
	rec = api.do(t, http.MethodPost, decision, admin.Token, map[string]string{"action": "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, decision, admin.Token, map[string]string{"action": "APPROVE", "comment": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", decodeMap(t, rec)["status"])

	rec = api.do(t, http.MethodPost, decision, admin.Token, map[string]string{"action": "REJECT"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/admin/loans/missing/decision", admin.Token, map[string]string{"action": "APPROVE"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/admin/loans/"+loanID, admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/me/summary", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeMap(t, rec)
	assert.Equal(t, "APPROVED", summary["latest_loan_status"])
	assert.Equal(t, "3000", summary["loan_limit"])

	rec = api.do(t, http.MethodGet, "/api/admin/analytics", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

const successCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1",
"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
"CallbackMetadata":{"Item":[{"Name":"Amount","Value":250},{"Name":"MpesaReceiptNumber","Value":"QK12ABC"}]}}}}`

func TestPaymentsFlow(t *testing.T) {
	var callbackURL string
	gateway := &MockGateway{PushPaymentFunc: func(ctx context.Context, req payments.PushRequest) (map[string]any, error) {
		callbackURL = req.CallbackURL
		return map[string]any{
			"ResponseCode":      "0",
			"CheckoutRequestID": "ws_CO_1",
			"CustomerMessage":   "Success. Request accepted for processing",
		}, nil
	}}
	api := newTestAPI(t, gateway)
	member := api.register(t, "mary", "member")
	admin := api.register(t, "boss", "admin")

	body, err := json.Marshal(map[string]interface{}{"phone_number": "0712345678", "type": "loan_repayment", "amount": 250})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewReader(body))
	req.Host = "sacco.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("Authorization", "Bearer "+member.Token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://sacco.example.com"+payments.CallbackPath, callbackURL)

	initiation := decodeMap(t, rec)
	tx := initiation["transaction"].(map[string]interface{})
	assert.Equal(t, "PENDING", tx["status"])
	assert.Equal(t, "ws_CO_1", tx["payment_reference"])

	rec = api.do(t, http.MethodGet, payments.CallbackPath, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, payments.CallbackPath, strings.NewReader(successCallback))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	}

	settled, err := api.store.GetTransaction(context.Background(), tx["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", string(settled.Status))
	assert.Contains(t, settled.Description, "QK12ABC")

	rec = api.do(t, http.MethodPost, "/api/admin/transactions/"+settled.ID+"/complete", admin.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/admin/transactions/unknown/complete", admin.Token, map[string]string{"note": "cash at office"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, payments.CallbackPath, "", map[string]string{"hello": "world"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentsWithoutGateway(t *testing.T) {
	api := newTestAPI(t, nil)
	member := api.register(t, "mary", "member")

	rec := api.do(t, http.MethodPost, "/api/payments", member.Token, map[string]string{"phone_number": "0712345678", "type": "DEPOSIT", "amount": "10"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPaymentOrigin(t *testing.T) {
	forged := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/payments", nil)
		req.Host = "attacker.example.net"
		req.Header.Set("X-Forwarded-Proto", "https")
		return req
	}

	direct := NewPaymentsHandler(nil, nil, false, zerolog.Nop())
	assert.Empty(t, direct.origin(forged()))
	assert.Equal(t, payments.DefaultFallbackCallbackURL, payments.ResolveCallbackURL("", direct.origin(forged()), ""))

	tlsReq := forged()
	tlsReq.TLS = &tls.ConnectionState{ServerName: "sacco.example.com"}
	assert.Equal(t, "https://sacco.example.com", direct.origin(tlsReq))

	proxied := NewPaymentsHandler(nil, nil, true, zerolog.Nop())
	assert.Equal(t, "https://attacker.example.net", proxied.origin(forged()))

	req := forged()
	req.Header.Set("X-Forwarded-Host", "sacco.example.com, internal:8080")
	assert.Equal(t, "https://sacco.example.com", proxied.origin(req))
}

func TestJobsEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	admin := api.register(t, "boss", "admin")

	rec := api.do(t, http.MethodGet, "/api/admin/jobs", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeMap(t, rec)["count"])

	rec = api.do(t, http.MethodGet, "/api/admin/jobs/nope", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAmountText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"amount": "100.50"}`, "100.50"},
		{`{"amount": 100.50}`, "100.50"},
		{`{"amount": 7}`, "7"},
		{`{"amount": null}`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v struct {
				Amount amountText `json:"amount"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &v))
			assert.Equal(t, tt.want, string(v.Amount))
		})
	}
}

func TestPathParam(t *testing.T) {
	id, ok := pathParam("/api/admin/loans/abc/decision", "/api/admin/loans/", "/decision")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = pathParam("/api/admin/loans//decision", "/api/admin/loans/", "/decision")
	assert.False(t, ok)
	_, ok = pathParam("/api/admin/loans/a/b/decision", "/api/admin/loans/", "/decision")
	assert.False(t, ok)
}
