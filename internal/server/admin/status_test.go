package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/store"
)

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_1", EntitlementState: entitlement.StateActive}))
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_2", EntitlementState: entitlement.StateExpired}))
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_3"}))

	rec := httptest.NewRecorder()
	HandleStatus(s, "test-version", true)(rec, httptest.NewRequest(http.MethodGet, "/admin/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-version", resp.Version)
	assert.Equal(t, 3, resp.TotalAccounts)
	assert.Equal(t, 1, resp.PaidAccounts)
	assert.Equal(t, 0, resp.ByState[entitlement.StateCancelled])
	assert.Equal(t, 1, resp.ByState[entitlement.StatePending])
	assert.True(t, resp.WebhookSecretSet)
}
