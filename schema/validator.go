// Package schema validates POST /articles request bodies against
// article.schema.json before anything touches the Index Gateway, following
// the teacher's embed-schema-at-build-time pattern (formerly
// payloadschema.ValidateNewsItemPayload against a NewsItem schema) adapted
// to spec.md §6's Article submission fields.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article.schema.json
var articleSchemaJSON []byte

var (
	compileOnce   sync.Once
	articleSchema *jsonschema.Schema
	compileErr    error
)

// ArticleSubmission is the validated, typed form of a POST /articles body.
type ArticleSubmission struct {
	ArticleID   string          `json:"article_id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	PublishTime time.Time       `json:"publish_time"`
	Source      string          `json:"source"`
	State       int16           `json:"state"`
	Top         bool            `json:"top"`
	Tags        json.RawMessage `json:"tags"`
	Topic       json.RawMessage `json:"topic"`
}

type rawArticleSubmission struct {
	ArticleID   string          `json:"article_id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	PublishTime string          `json:"publish_time"`
	Source      string          `json:"source"`
	State       int16           `json:"state"`
	Top         int             `json:"top"`
	Tags        json.RawMessage `json:"tags"`
	Topic       json.RawMessage `json:"topic"`
}

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("article.schema.json", bytes.NewReader(articleSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add article schema resource: %w", err)
			return
		}
		articleSchema, compileErr = compiler.Compile("article.schema.json")
	})
	return articleSchema, compileErr
}

// ValidateArticleSubmission parses and validates raw JSON against
// article.schema.json, returning a typed ArticleSubmission on success.
func ValidateArticleSubmission(body []byte) (*ArticleSubmission, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile article schema: %w", err)
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("article submission failed validation: %w", err)
	}

	var raw rawArticleSubmission
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode article submission: %w", err)
	}
	publishTime, err := time.Parse(time.RFC3339, raw.PublishTime)
	if err != nil {
		return nil, fmt.Errorf("publish_time is not a valid ISO8601 timestamp: %w", err)
	}

	return &ArticleSubmission{
		ArticleID:   raw.ArticleID,
		Title:       raw.Title,
		Content:     raw.Content,
		PublishTime: publishTime.UTC(),
		Source:      raw.Source,
		State:       raw.State,
		Top:         raw.Top == 1,
		Tags:        defaultEmptyArray(raw.Tags),
		Topic:       defaultEmptyArray(raw.Topic),
	}, nil
}

func defaultEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`[]`)
	}
	return raw
}
