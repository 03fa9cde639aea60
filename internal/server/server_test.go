package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/planhub/internal/auth"
	"github.com/wolfeidau/planhub/internal/consolidator"
	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/schema"
	memorystore "github.com/wolfeidau/planhub/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (http.Handler, *memorystore.ConsolidationStore) {
	t.Helper()

	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)

	st := memorystore.NewConsolidationStore()
	srv := New(consolidator.New(st, nil), st, Config{
		Verifier:    verifier,
		CORSOrigins: []string{"https://localhost"},
	})

	return srv.Handler(zerolog.Nop()), st
}

func token(t *testing.T, org, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"org":   org,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

func intPtr(v int) *int { return &v }

func submission() *schema.RawSubmission {
	return &schema.RawSubmission{
		Organization: "org-1",
		Units: []schema.RawUnit{
			{Code: "u1", Name: "Diretoria"},
		},
		Participants: []schema.RawParticipant{
			{Registration: "r1", UnitCode: "u1", WeeklyHours: intPtr(40)},
		},
		WorkPlans: []schema.RawWorkPlan{
			{ID: "wp-1", Participant: "r1", Start: "2026-01-01", End: "2026-01-31", Status: "active"},
		},
		Activities: []schema.RawActivity{
			{WorkPlan: "wp-1", Date: "2026-01-10", Type: "report", Hours: intPtr(4)},
		},
	}
}

func postSubmission(t *testing.T, handler http.Handler, org, authHeader string, raw *schema.RawSubmission) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(raw)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/organizations/"+org+"/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitEndpoint(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		handler, st := newTestServer(t)

		rec := postSubmission(t, handler, "org-1", token(t, "org-1", "plans:write"), submission())
		require.Equal(t, http.StatusOK, rec.Code)

		var result consolidator.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, consolidator.StateCommitted, result.State)
		require.Equal(t, 4, result.Counts.Inserted)

		_, err := st.GetWorkPlan(t.Context(), "org-1", "wp-1")
		require.NoError(t, err)
	})

	t.Run("rejection is 422", func(t *testing.T) {
		handler, _ := newTestServer(t)

		raw := submission()
		raw.Activities = append(raw.Activities, schema.RawActivity{
			WorkPlan: "wp-1", Date: "2026-01-10", Type: "marathon", Hours: intPtr(40),
		})

		rec := postSubmission(t, handler, "org-1", token(t, "org-1", "plans:write"), raw)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var result consolidator.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, consolidator.StateRejected, result.State)
		require.NotEmpty(t, result.Rejections)
	})

	t.Run("missing token is 401", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := postSubmission(t, handler, "org-1", "", submission())
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing scope is 403", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := postSubmission(t, handler, "org-1", token(t, "org-1", "plans:read"), submission())
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("foreign organization is 403", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := postSubmission(t, handler, "org-1", token(t, "org-2", "plans:write"), submission())
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("payload claiming another org is 403", func(t *testing.T) {
		handler, _ := newTestServer(t)
		raw := submission()
		raw.Organization = "org-2"
		rec := postSubmission(t, handler, "org-1", token(t, "org-1", "plans:write"), raw)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/organizations/org-1/submissions", strings.NewReader("{nope"))
		req.Header.Set("Authorization", token(t, "org-1", "plans:write"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("gzip compressed body", func(t *testing.T) {
		handler, _ := newTestServer(t)

		body, err := json.Marshal(submission())
		require.NoError(t, err)

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err = gz.Write(body)
		require.NoError(t, err)
		require.NoError(t, gz.Close())

		req := httptest.NewRequest(http.MethodPost, "/organizations/org-1/submissions", &buf)
		req.Header.Set("Authorization", token(t, "org-1", "plans:write"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestReadEndpoints(t *testing.T) {
	handler, _ := newTestServer(t)
	writeToken := token(t, "org-1", "plans:write")
	readToken := token(t, "org-1", "plans:read")

	rec := postSubmission(t, handler, "org-1", writeToken, submission())
	require.Equal(t, http.StatusOK, rec.Code)

	get := func(path, authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", authHeader)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("get work plan", func(t *testing.T) {
		rec := get("/organizations/org-1/workplans/wp-1", readToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var plan models.WorkPlan
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
		require.Equal(t, "wp-1", plan.ID)
		require.Equal(t, models.NewDate(2026, 1, 1), plan.Start)
	})

	t.Run("list activities", func(t *testing.T) {
		rec := get("/organizations/org-1/workplans/wp-1/activities", readToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var acts []*models.Activity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acts))
		require.Len(t, acts, 1)
	})

	t.Run("get participant", func(t *testing.T) {
		rec := get("/organizations/org-1/participants/r1", readToken)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get unit", func(t *testing.T) {
		rec := get("/organizations/org-1/units/u1", readToken)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown plan is 404", func(t *testing.T) {
		rec := get("/organizations/org-1/workplans/nope", readToken)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("read with write-only scope is 403", func(t *testing.T) {
		writeOnly := token(t, "org-1", "plans:write")
		rec := get("/organizations/org-1/workplans/wp-1", writeOnly)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDeleteWorkPlanEndpoint(t *testing.T) {
	handler, st := newTestServer(t)
	writeToken := token(t, "org-1", "plans:write")

	rec := postSubmission(t, handler, "org-1", writeToken, submission())
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/organizations/org-1/workplans/wp-1", nil)
	req.Header.Set("Authorization", writeToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := st.GetWorkPlan(t.Context(), "org-1", "wp-1")
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodDelete, "/organizations/org-1/workplans/wp-1", nil)
	req.Header.Set("Authorization", writeToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
