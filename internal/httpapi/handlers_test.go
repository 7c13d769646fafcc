package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/simcluster/internal/store"
)

func TestWriteError_MatchesErrorEnvelope(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, rec)

	if err := writeError(c, http.StatusNotFound, "ARTICLE_NOT_FOUND", "article not found", "trace-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Error.Code != "ARTICLE_NOT_FOUND" || body.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope contents: %+v", body)
	}
}

func TestClusterSummary_IncludesCoreFields(t *testing.T) {
	cluster := &store.ClusterRecord{
		ClusterID:               "cl_1",
		Size:                    3,
		RepresentativeArticleID: "a1",
		LastUpdated:             time.Now(),
	}
	summary := clusterSummary(cluster)
	if summary["cluster_id"] != "cl_1" || summary["size"] != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRemoveArticleID_DropsOnlyTheExcludedID(t *testing.T) {
	got := removeArticleID([]string{"a1", "a2", "a3"}, "a2")
	if len(got) != 2 || got[0] != "a1" || got[1] != "a3" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRequestTraceID_FallsBackToGeneratedID(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, rec)

	id := requestTraceID(c)
	if id == "" {
		t.Fatalf("expected a non-empty fallback trace id")
	}
}
