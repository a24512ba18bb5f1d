package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/utils"
)

// Client communicates with the Slack Web API
type Client struct {
	httpclient *http.Client
	url        string
	token      string
}

// NewClient creates a Slack Web API client from config
func NewClient() (*Client, error) {
	res := Client{}
	res.token = cmdapp.Config.GetString("slack.bot.token")
	if res.token == "" {
		return nil, errors.New("No slack.bot.token setting provided")
	}
	res.url = cmdapp.Config.GetString("slack.url")
	if res.url == "" {
		res.url = "https://slack.com/api"
	}
	res.httpclient = &http.Client{Timeout: time.Minute}
	return &res, nil
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage posts a message to a channel, optionally in a thread
func (c *Client) PostMessage(channelID, threadTS, text string) error {
	body := map[string]string{"channel": channelID, "text": text}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	return c.postJSON("chat.postMessage", body, &apiResponse{})
}

// Action describes one interactive button attached to a message
type Action struct {
	ActionID string
	Label    string
	Value    string
}

// PostAction posts a message carrying interactive buttons
func (c *Client) PostAction(channelID, threadTS, text string, actions ...Action) error {
	elements := make([]map[string]interface{}, 0, len(actions))
	for _, action := range actions {
		elements = append(elements, map[string]interface{}{
			"type":      "button",
			"action_id": action.ActionID,
			"text":      map[string]string{"type": "plain_text", "text": action.Label},
			"value":     action.Value,
		})
	}
	blocks := []map[string]interface{}{
		{
			"type": "section",
			"text": map[string]string{"type": "mrkdwn", "text": text},
		},
		{
			"type":     "actions",
			"elements": elements,
		},
	}
	body := map[string]interface{}{"channel": channelID, "text": text, "blocks": blocks}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	return c.postJSON("chat.postMessage", body, &apiResponse{})
}

type fileInfoResponse struct {
	apiResponse
	File FileInfo `json:"file"`
}

// GetFileInfo retrieves file metadata
func (c *Client) GetFileInfo(fileID string) (*FileInfo, error) {
	urlStr := utils.URLJoin(c.url, "files.info") + "?file=" + url.QueryEscape(fileID)
	req, err := http.NewRequest(http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	var result fileInfoResponse
	if err := c.invoke(req, &result); err != nil {
		return nil, errors.Wrap(err, "Can't get file info")
	}
	if err := result.File.Validate(); err != nil {
		return nil, errors.Wrap(err, "Wrong file info response")
	}
	return &result.File, nil
}

type userInfoResponse struct {
	apiResponse
	User struct {
		Name    string `json:"name"`
		Profile struct {
			DisplayName string `json:"display_name"`
		} `json:"profile"`
	} `json:"user"`
}

// GetUserName returns the display name for a user, falling back to the account name
func (c *Client) GetUserName(userID string) (string, error) {
	urlStr := utils.URLJoin(c.url, "users.info") + "?user=" + url.QueryEscape(userID)
	req, err := http.NewRequest(http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}
	var result userInfoResponse
	if err := c.invoke(req, &result); err != nil {
		return "", errors.Wrap(err, "Can't get user info")
	}
	if result.User.Profile.DisplayName != "" {
		return result.User.Profile.DisplayName, nil
	}
	return result.User.Name, nil
}

// FileUpload describes one artifact delivery
type FileUpload struct {
	ChannelID string
	ThreadTS  string
	Path      string
	Title     string
	Comment   string
}

type uploadResponse struct {
	apiResponse
	File struct {
		ID string `json:"id"`
	} `json:"file"`
}

// UploadFile delivers a local file to a channel and returns the created file ID
func (c *Client) UploadFile(ctx context.Context, up FileUpload) (string, error) {
	file, err := os.Open(up.Path)
	if err != nil {
		return "", errors.Wrapf(err, "can't open %s", up.Path)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(up.Path))
	if err != nil {
		return "", errors.Wrap(err, "Can't add file to request")
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", errors.Wrap(err, "Can't add file to request")
	}
	writer.WriteField("channels", up.ChannelID)
	writer.WriteField("title", up.Title)
	if up.ThreadTS != "" {
		writer.WriteField("thread_ts", up.ThreadTS)
	}
	if up.Comment != "" {
		writer.WriteField("initial_comment", up.Comment)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, utils.URLJoin(c.url, "files.upload"), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var result uploadResponse
	if err := c.invoke(req, &result); err != nil {
		return "", errors.Wrap(err, "Can't upload file")
	}
	return result.File.ID, nil
}

// Download streams a private file to the writer
func (c *Client) Download(ctx context.Context, urlStr string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return errors.Wrap(err, "Can't download file")
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return errors.Wrap(err, "Can't download file")
	}
	_, err = io.Copy(w, resp.Body)
	return errors.Wrap(err, "Can't save downloaded data")
}

func (c *Client) postJSON(method string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "Can't marshal request")
	}
	req, err := http.NewRequest(http.MethodPost, utils.URLJoin(c.url, method), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return errors.Wrapf(c.invoke(req, result), "Can't call %s", method)
}

func (c *Client) invoke(req *http.Request, result interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	cmdapp.Log.Debugf("Slack call: %s", req.URL.Path)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "Can't read response")
	}
	if err := json.Unmarshal(data, result); err != nil {
		return errors.Wrap(err, "Can't decode response")
	}
	return checkOK(data)
}

func checkOK(data []byte) error {
	var st apiResponse
	if err := json.Unmarshal(data, &st); err != nil {
		return errors.Wrap(err, "Can't decode response")
	}
	if !st.OK {
		msg := st.Error
		if msg == "" {
			msg = "unknown error"
		}
		if strings.HasPrefix(msg, "invalid_auth") || strings.HasPrefix(msg, "not_authed") {
			return errors.Errorf("Slack auth failed: %s", msg)
		}
		return errors.Errorf("Slack API error: %s", msg)
	}
	return nil
}
