package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clubware/membership-backend/v1/middleware"
	"github.com/clubware/membership-backend/v1/models"
	"github.com/clubware/membership-backend/v1/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClubID  = "club_test"
	testActorID = "usr_test"
)

// setupTestAPI wires the full HTTP stack against an in-memory database, with
// the middleware in trusted-header mode.
func setupTestAPI(t *testing.T) http.Handler {
	t.Helper()
	db := services.RequireTestDB(t)
	handler := NewV1Handler(db)

	mux := http.NewServeMux()
	handler.SetupV1Routes(mux)

	auth := middleware.NewActorAuthMiddleware(middleware.ActorAuthConfig{})
	return auth.ExtractActor(mux)
}

func doJSON(t *testing.T, api http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Club-Id", testClubID)
	req.Header.Set("X-Actor-Id", testActorID)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func createTestMember(t *testing.T, api http.Handler) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/members", models.CreateMemberRequest{
		Name:  "Handler Test",
		Email: "handler@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var member models.Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	require.NotEmpty(t, member.MemberID)
	return member.MemberID
}

func changeMemberStatus(t *testing.T, api http.Handler, memberID string, status models.MemberStatus, date string) models.ChainResult {
	t.Helper()
	req := models.ChangeStatusRequest{NewStatus: status, Reason: "handler test"}
	d, err := models.ParseDate(date)
	require.NoError(t, err)
	req.EffectiveDate = &d
	if status == models.StatusLeft {
		category := models.LeftCategoryVoluntary
		req.LeftCategory = &category
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/status", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.ChainResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestAPI_RequiresActor(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A club header alone is not enough.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/members", nil)
	req.Header.Set("X-Club-Id", testClubID)
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CreateAndGetMember(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var member models.Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	assert.Equal(t, models.StatusPending, member.Status)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/mem_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateMember_BadRequest(t *testing.T) {
	api := setupTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/members", models.CreateMemberRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Club-Id", testClubID)
	req.Header.Set("X-Actor-Id", testActorID)
	rec2 := httptest.NewRecorder()
	api.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestAPI_ListMembers(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-01-01")
	createTestMember(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Items []models.Member `json:"items"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, memberID, listing.Items[0].MemberID)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members?status=nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ChangeStatus_ErrorMapping(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)

	// Graph violation maps to 400.
	d, _ := models.ParseDate("2025-01-01")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/status", models.ChangeStatusRequest{
		NewStatus: models.StatusDormant, Reason: "skip", EffectiveDate: &d,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Same-day collision maps to 409.
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-03-01")
	collision := d2(t, "2025-03-01")
	rec = doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/status", models.ChangeStatusRequest{
		NewStatus: models.StatusProbation, Reason: "again", EffectiveDate: &collision,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// d2 parses a date for inline request literals
func d2(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestAPI_StatusHistoryAndPeriods(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-01-01")
	changeMemberStatus(t, api, memberID, models.StatusDormant, "2025-03-01")
	result := changeMemberStatus(t, api, memberID, models.StatusLeft, "2025-02-01")
	require.Len(t, result.RemovedTransitions, 1)

	var history struct {
		Items []models.StatusTransition `json:"items"`
		Count int                       `json:"count"`
	}
	rec := doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID+"/status-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 2, history.Count)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID+"/status-history?includeDeleted=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 3, history.Count)

	var periods struct {
		Items []models.MembershipPeriod `json:"items"`
		Count int                       `json:"count"`
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID+"/periods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &periods))
	require.Equal(t, 1, periods.Count)
	require.NotNil(t, periods.Items[0].LeaveDate)
	assert.Equal(t, "2025-02-01", periods.Items[0].LeaveDate.String())
}

func TestAPI_PreviewDoesNotPersist(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-01-01")

	category := models.LeftCategoryVoluntary
	d := d2(t, "2025-06-01")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/status/preview", models.ChangeStatusRequest{
		NewStatus: models.StatusLeft, Reason: "what if", EffectiveDate: &d, LeftCategory: &category,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.ChainResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.StatusLeft, result.FinalMemberStatus)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var member models.Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	assert.Equal(t, models.StatusActive, member.Status)
}

func TestAPI_EditAndDeleteHistoryEntry(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-01-01")
	changeMemberStatus(t, api, memberID, models.StatusLeft, "2025-06-01")

	var history struct {
		Items []models.StatusTransition `json:"items"`
	}
	rec := doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID+"/status-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Items, 2)
	leftID := history.Items[1].TransitionID

	newReason := "corrected reason"
	rec = doJSON(t, api, http.MethodPut, "/api/v1/status-history/"+leftID, models.UpdateStatusHistoryRequest{
		Reason: &newReason,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/status-history/"+leftID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.ChainResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.StatusActive, result.FinalMemberStatus)

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/status-history/trn_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CancellationLifecycle(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)
	changeMemberStatus(t, api, memberID, models.StatusActive, "2025-01-01")

	// Far future, so the membership stays active until the worker fires.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/cancellation", models.SetCancellationRequest{
		CancellationDate: d2(t, "2099-12-31"),
		Reason:           "distant goodbye",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var member models.Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	assert.Equal(t, models.StatusActive, member.Status)
	require.NotNil(t, member.CancellationDate)
	assert.Equal(t, "2099-12-31", member.CancellationDate.String())

	// Second notice conflicts.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/members/"+memberID+"/cancellation", models.SetCancellationRequest{
		CancellationDate: d2(t, "2099-01-31"), Reason: "even later",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/members/"+memberID+"/cancellation", models.RevokeCancellationRequest{
		Reason: "staying",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	member = models.Member{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &member))
	assert.Nil(t, member.CancellationDate)
}

func TestAPI_BulkChangeStatus(t *testing.T) {
	api := setupTestAPI(t)
	first := createTestMember(t, api)
	second := createTestMember(t, api)
	changeMemberStatus(t, api, first, models.StatusActive, "2025-01-01")

	body := models.BulkChangeStatusRequest{
		MemberIDs: []string{first, second},
		ChangeStatusRequest: models.ChangeStatusRequest{
			NewStatus: models.StatusSuspended, Reason: "sweep",
		},
	}
	d := d2(t, "2025-02-01")
	body.EffectiveDate = &d

	rec := doJSON(t, api, http.MethodPost, "/api/v1/members/bulk-status", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.BulkChangeStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, []string{first}, response.Updated)
	require.Len(t, response.Skipped, 1)
	assert.Equal(t, second, response.Skipped[0].MemberID)
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	api := setupTestAPI(t)
	memberID := createTestMember(t, api)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/v1/members"},
		{http.MethodGet, "/api/v1/members/bulk-status"},
		{http.MethodPut, fmt.Sprintf("/api/v1/members/%s/status", memberID)},
		{http.MethodPost, fmt.Sprintf("/api/v1/members/%s/periods", memberID)},
		{http.MethodPost, "/api/v1/status-history/trn_x"},
	} {
		rec := doJSON(t, api, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/members/"+memberID+"/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
