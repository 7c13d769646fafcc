package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/ingest"
	"horse.fit/simcluster/internal/store"
	"horse.fit/simcluster/schema"
)

func writeError(c echo.Context, status int, code, message, traceID string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"trace_id": traceID,
	})
}

// handleSubmitArticle implements POST /articles: schema-validate, upsert
// idempotently, enqueue an ingest job, return 200 {} per spec.md §6.
func (s *Server) handleSubmitArticle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, "failed to read request body")
	}

	submission, err := schema.ValidateArticleSubmission(body)
	if err != nil {
		return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, err.Error())
	}

	ctx := c.Request().Context()
	fp := fingerprint.Compute(submission.Content)

	_, err = s.pool.UpsertArticle(ctx, store.ArticleRecord{
		ArticleID:   submission.ArticleID,
		Title:       submission.Title,
		Content:     submission.Content,
		PublishTime: submission.PublishTime,
		Source:      submission.Source,
		State:       submission.State,
		Top:         submission.Top,
		Tags:        submission.Tags,
		Topic:       submission.Topic,
	}, fp)
	if err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	if err := ingest.SubmitDirect(ctx, s.pool, submission.ArticleID); err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	return c.JSON(http.StatusOK, map[string]any{})
}

// handleGetArticle implements GET /articles/{id}.
func (s *Server) handleGetArticle(c echo.Context) error {
	ctx := c.Request().Context()
	articleID := c.Param("id")

	article, err := s.pool.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNoRows(err) {
			return clustererr.New(clustererr.NotFound, clustererr.CodeArticleNotFound, "article not found")
		}
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	resp := map[string]any{
		"article_id":       article.ArticleID,
		"title":            article.Title,
		"publish_time":     article.PublishTime,
		"source":           article.Source,
		"cluster_status":   article.ClusterStatus,
		"cluster_id":       article.ClusterID,
		"similarity_score": article.SimilarityScore,
	}
	if article.ClusterID != nil {
		cluster, err := s.pool.GetCluster(ctx, *article.ClusterID)
		if err == nil {
			resp["cluster"] = clusterSummary(cluster)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleGetSimilar implements GET /articles/{id}/similar.
func (s *Server) handleGetSimilar(c echo.Context) error {
	ctx := c.Request().Context()
	articleID := c.Param("id")

	article, err := s.pool.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNoRows(err) {
			return clustererr.New(clustererr.NotFound, clustererr.CodeArticleNotFound, "article not found")
		}
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	if article.ClusterStatus == "pending" {
		return clustererr.New(clustererr.NotFound, clustererr.CodeClusterPending, "article has not finished clustering yet")
	}
	if article.ClusterID == nil {
		return c.JSON(http.StatusOK, map[string]any{"cluster": nil, "members": []any{}})
	}

	cluster, err := s.pool.GetCluster(ctx, *article.ClusterID)
	if err != nil {
		if store.IsNoRows(err) {
			return clustererr.New(clustererr.NotFound, clustererr.CodeClusterNotFound, "cluster not found")
		}
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}
	memberIDs, err := s.pool.ListClusterMemberIDs(ctx, cluster.ClusterID)
	if err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"cluster":     clusterSummary(cluster),
		"member_ids":  memberIDs,
	})
}

// handleGetCluster implements GET /clusters/{id}, optionally embedding
// member article ids with ?include_articles=true.
func (s *Server) handleGetCluster(c echo.Context) error {
	ctx := c.Request().Context()
	clusterID := c.Param("id")

	cluster, err := s.pool.GetCluster(ctx, clusterID)
	if err != nil {
		if store.IsNoRows(err) {
			return clustererr.New(clustererr.NotFound, clustererr.CodeClusterNotFound, "cluster not found")
		}
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	resp := clusterSummary(cluster)
	if strings.EqualFold(c.QueryParam("include_articles"), "true") {
		memberIDs, err := s.pool.ListClusterMemberIDs(ctx, clusterID)
		if err != nil {
			return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
		}
		resp["article_ids"] = memberIDs
	}
	return c.JSON(http.StatusOK, resp)
}

// handleSearchArticles implements GET /clusters: a filtered article search
// that returns each article's cluster mates, per spec.md §6's
// {article_id, similar_article_ids[]} response shape.
func (s *Server) handleSearchArticles(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	articles, err := s.pool.SearchArticles(ctx, store.ArticleFilter{
		Source:        c.QueryParam("source"),
		ClusterStatus: c.QueryParam("cluster_status"),
		Page:          page,
		PageSize:      pageSize,
	})
	if err != nil {
		return clustererr.Wrap(clustererr.Upstream, clustererr.CodeUpstreamUnavailable, err)
	}

	items := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		var similar []string
		if a.ClusterID != nil {
			similar, _ = s.pool.ListClusterMemberIDs(ctx, *a.ClusterID)
			similar = removeArticleID(similar, a.ArticleID)
		}
		items = append(items, map[string]any{
			"article_id":         a.ArticleID,
			"similar_article_ids": similar,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// handleRecheck implements POST /articles/recheck (spec.md §4.7/§6): a list
// of article_ids and a reason, one recheck job enqueued per article.
func (s *Server) handleRecheck(c echo.Context) error {
	var body struct {
		ArticleIDs []string `json:"article_ids"`
		Reason     string   `json:"reason"`
		CallerID   string   `json:"caller_id"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, "invalid JSON body")
	}
	if len(body.ArticleIDs) == 0 {
		return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, "article_ids is required")
	}
	if strings.TrimSpace(body.Reason) == "" {
		return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, "reason is required")
	}
	callerID := body.CallerID
	if callerID == "" {
		callerID = c.RealIP()
	}

	jobIDs := make([]string, 0, len(body.ArticleIDs))
	for _, articleID := range body.ArticleIDs {
		if strings.TrimSpace(articleID) == "" {
			return clustererr.New(clustererr.Input, clustererr.CodeInvalidArgument, "article_ids must not contain an empty id")
		}
		jobID, err := s.recheck.Request(c.Request().Context(), callerID, articleID)
		if err != nil {
			return err
		}
		jobIDs = append(jobIDs, jobID)
	}
	return c.JSON(http.StatusOK, map[string]any{"accepted": true, "job_ids": jobIDs, "reason": body.Reason})
}

func clusterSummary(cluster *store.ClusterRecord) map[string]any {
	return map[string]any{
		"cluster_id":                 cluster.ClusterID,
		"size":                       cluster.Size,
		"representative_article_id": cluster.RepresentativeArticleID,
		"top_terms":                  cluster.TopTerms,
		"last_updated":               cluster.LastUpdated,
	}
}

func removeArticleID(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
