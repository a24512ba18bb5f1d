package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/utils"
)

// ErrNotConfigured is returned when no API key is set up
var ErrNotConfigured = errors.New("no llm api key configured")

// Client talks to an OpenAI style chat completions endpoint
type Client struct {
	httpclient *http.Client
	url        string
	key        string
	model      string
}

// NewClient creates an LLM client from config. Fails with ErrNotConfigured
// when no credential is present so callers can disable the feature.
func NewClient() (*Client, error) {
	res := Client{}
	res.key = cmdapp.Config.GetString("llm.key")
	if res.key == "" {
		return nil, ErrNotConfigured
	}
	var err error
	res.url, err = utils.GetURLFromConfig("llm.url")
	if err != nil {
		return nil, err
	}
	res.model = cmdapp.Config.GetString("llm.model")
	if res.model == "" {
		return nil, errors.New("No llm.model setting provided")
	}
	res.httpclient = &http.Client{}
	return &res, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string      `json:"model"`
	Messages       []message   `json:"messages"`
	ResponseFormat interface{} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// stringArraySchema constrains the response to {field: array[string] of length n}
func stringArraySchema(field string, n int) interface{} {
	return map[string]interface{}{
		"type": "json_schema",
		"json_schema": map[string]interface{}{
			"name":   field + "_lines",
			"strict": true,
			"schema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					field: map[string]interface{}{
						"type":     "array",
						"items":    map[string]string{"type": "string"},
						"minItems": n,
						"maxItems": n,
					},
				},
				"required":             []string{field},
				"additionalProperties": false,
			},
		},
	}
}

// CompleteStrings sends one structured request and returns the string array
// found under the given schema field. The array length is NOT validated here -
// that is the caller's contract to enforce.
func (c *Client) CompleteStrings(ctx context.Context, systemPrompt, userContent, field string, n int) ([]string, error) {
	reqData := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		ResponseFormat: stringArraySchema(field, n),
	}
	data, err := json.Marshal(&reqData)
	if err != nil {
		return nil, errors.Wrap(err, "Can't marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		utils.URLJoin(c.url, "chat/completions"), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Can't call llm service")
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read response")
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, errors.Wrap(err, "Can't decode response")
	}
	if chatResp.Error != nil {
		return nil, errors.Errorf("llm error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	var content map[string][]string
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &content); err != nil {
		return nil, errors.Wrap(err, "Can't decode structured content")
	}
	lines, ok := content[field]
	if !ok {
		return nil, errors.Errorf("structured content misses field %s", field)
	}
	return lines, nil
}
