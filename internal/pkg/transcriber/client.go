package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
)

// Word is one token of the word level speech recognition output
type Word struct {
	Text      string  `json:"text"`
	Type      string  `json:"type"` // "word", "spacing", "audio_event"
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker_id"`
}

// Result is the speech to text response
type Result struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// ServerError marks a 5xx failure of the remote service. Only these get retried.
type ServerError struct {
	Code int
	Msg  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transcription server error (%d): %s", e.Code, e.Msg)
}

// Client communicates with the speech to text service
type Client struct {
	httpclient *http.Client
	url        string
	key        string
	model      string
}

// NewClient creates a transcriber client
func NewClient() (*Client, error) {
	res := Client{}
	res.url = cmdapp.Config.GetString("asr.url")
	if res.url == "" {
		return nil, errors.New("No asr.url setting provided")
	}
	res.key = cmdapp.Config.GetString("asr.key")
	if res.key == "" {
		return nil, errors.New("No asr.key setting provided")
	}
	res.model = cmdapp.Config.GetString("asr.model")
	if res.model == "" {
		res.model = "scribe_v1"
	}
	res.httpclient = &http.Client{Timeout: 30 * time.Minute}
	return &res, nil
}

// Transcribe uploads the local file and returns word level recognition output.
// Diarization and audio event tagging are always on.
func (c *Client) Transcribe(ctx context.Context, filePath string) (*Result, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", filePath)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			writer.WriteField("model_id", c.model)
			writer.WriteField("diarize", "true")
			writer.WriteField("tag_audio_events", "true")
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", c.key)

	cmdapp.Log.Infof("Sending audio to: %s", c.url)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Can't call transcription service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read response")
	}
	if resp.StatusCode >= 500 {
		return nil, &ServerError{Code: resp.StatusCode, Msg: trim(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("transcription request rejected (%d): %s", resp.StatusCode, trim(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "Can't decode response")
	}
	return &result, nil
}

func trim(body []byte) string {
	if len(body) > 200 {
		return string(body[:200]) + "..."
	}
	return string(body)
}
