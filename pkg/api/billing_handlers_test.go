package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/billing"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookFixture(t *testing.T) (*billingHandlers, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	prices, err := plans.NewPriceTable(map[string]string{"price_pro": string(plans.TierPro)})
	require.NoError(t, err)
	processor := billing.NewProcessor(postgres.NewDB(sqlDB), nil, prices, nil, nil, nil, logger)

	h := newBillingHandlers(Deps{
		Processor: processor,
		Events:    billing.NewHMACEventSource("whsec_test"),
		Logger:    logger,
	})
	return h, mock
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newWebhookFixture(t)

	payload := []byte(`{"id":"evt_1","type":"invoice.payment_failed"}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.webhook(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookReplayReturnsSuccess(t *testing.T) {
	h, mock := newWebhookFixture(t)

	payload, err := json.Marshal(map[string]string{
		"id":   "evt_replay",
		"type": billing.EventCheckoutCompleted,
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("evt_replay").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Signature", sign("whsec_test", payload))
	rec := httptest.NewRecorder()
	h.webhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "replayed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	h := newBillingHandlers(Deps{
		Logger: observability.NewLogger(observability.ErrorLevel, nil),
	})

	body, _ := json.Marshal(map[string]string{"plan": "free"})
	req := httptest.NewRequest(http.MethodPost, "/billing/checkout", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.startCheckout(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
