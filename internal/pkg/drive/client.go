package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/utils"
)

// Folder is a per user archive folder
type Folder struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Doc is one archived document
type Doc struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Client communicates with the document store service
type Client struct {
	httpclient *http.Client
	url        string
	key        string
	rootID     string
}

// NewClient creates a document store client
func NewClient() (*Client, error) {
	res := Client{}
	var err error
	res.url, err = utils.GetURLFromConfig("drive.url")
	if err != nil {
		return nil, err
	}
	res.key = cmdapp.Config.GetString("drive.key")
	if res.key == "" {
		return nil, errors.New("No drive.key setting provided")
	}
	res.rootID = cmdapp.Config.GetString("drive.root")
	res.httpclient = &http.Client{Timeout: time.Minute}
	return &res, nil
}

type folderResponse struct {
	Folder  Folder `json:"folder"`
	Created bool   `json:"created"`
}

// EnsureFolder finds or creates the named folder under the configured root.
// Reports whether the folder was newly created.
func (c *Client) EnsureFolder(ctx context.Context, name string) (*Folder, bool, error) {
	var result folderResponse
	err := c.post(ctx, "folders", map[string]string{"name": name, "parent": c.rootID}, &result)
	if err != nil {
		return nil, false, errors.Wrap(err, "Can't ensure folder")
	}
	if result.Folder.ID == "" {
		return nil, false, errors.New("folder response without id")
	}
	return &result.Folder, result.Created, nil
}

// UploadDoc stores text as a rich text document inside the folder
func (c *Client) UploadDoc(ctx context.Context, folderID, name, content string) (*Doc, error) {
	var result Doc
	err := c.post(ctx, "documents",
		map[string]string{"folder": folderID, "name": name, "content": content}, &result)
	if err != nil {
		return nil, errors.Wrap(err, "Can't upload document")
	}
	if result.ID == "" {
		return nil, errors.New("document response without id")
	}
	return &result, nil
}

// UpdateDoc replaces the content of an archived document
func (c *Client) UpdateDoc(ctx context.Context, docID, content string) error {
	return errors.Wrap(
		c.post(ctx, utils.URLJoin("documents", docID), map[string]string{"content": content}, &Doc{}),
		"Can't update document")
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "Can't marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, utils.URLJoin(c.url, path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	cmdapp.Log.Debugf("Drive call: %s", path)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return err
	}
	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "Can't read response")
	}
	return errors.Wrap(json.Unmarshal(respData, result), "Can't decode response")
}
