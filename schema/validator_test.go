package schema

import "testing"

func TestValidateArticleSubmission_Valid(t *testing.T) {
	body := []byte(`{
		"article_id":"a1",
		"title":"Model release",
		"content":"a full article body about a model release",
		"publish_time":"2026-02-13T14:00:00Z",
		"source":"hackernews",
		"state":1,
		"top":0,
		"tags":["ai"],
		"topic":[]
	}`)

	sub, err := ValidateArticleSubmission(body)
	if err != nil {
		t.Fatalf("expected valid submission, got error: %v", err)
	}
	if sub.ArticleID != "a1" {
		t.Fatalf("expected article_id=a1, got %q", sub.ArticleID)
	}
	if sub.Top {
		t.Fatalf("expected top=false")
	}
	if sub.State != 1 {
		t.Fatalf("expected state=1, got %d", sub.State)
	}
}

func TestValidateArticleSubmission_MissingRequired(t *testing.T) {
	body := []byte(`{
		"article_id":"a1",
		"title":"Missing content",
		"publish_time":"2026-02-13T14:00:00Z",
		"source":"hackernews",
		"state":1,
		"top":0,
		"tags":[],
		"topic":[]
	}`)

	_, err := ValidateArticleSubmission(body)
	if err == nil {
		t.Fatalf("expected validation to fail for missing content")
	}
}

func TestValidateArticleSubmission_InvalidState(t *testing.T) {
	body := []byte(`{
		"article_id":"a1",
		"title":"Bad state",
		"content":"some content",
		"publish_time":"2026-02-13T14:00:00Z",
		"source":"hackernews",
		"state":7,
		"top":0,
		"tags":[],
		"topic":[]
	}`)

	_, err := ValidateArticleSubmission(body)
	if err == nil {
		t.Fatalf("expected validation to fail for out-of-range state")
	}
}

func TestValidateArticleSubmission_BadTimestamp(t *testing.T) {
	body := []byte(`{
		"article_id":"a1",
		"title":"Bad timestamp",
		"content":"some content",
		"publish_time":"not-a-date",
		"source":"hackernews",
		"state":1,
		"top":0,
		"tags":[],
		"topic":[]
	}`)

	_, err := ValidateArticleSubmission(body)
	if err == nil {
		t.Fatalf("expected validation to fail for malformed publish_time")
	}
}

func TestValidateArticleSubmission_ContentTooLong(t *testing.T) {
	content := make([]byte, 200001)
	for i := range content {
		content[i] = 'a'
	}
	body := []byte(`{"article_id":"a1","title":"t","content":"` + string(content) + `","publish_time":"2026-02-13T14:00:00Z","source":"s","state":1,"top":0,"tags":[],"topic":[]}`)

	_, err := ValidateArticleSubmission(body)
	if err == nil {
		t.Fatalf("expected validation to fail for content over 200000 chars")
	}
}
