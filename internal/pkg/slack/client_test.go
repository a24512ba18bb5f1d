package slack

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	URL  string
	body string
	auth string
}

func initTestServer(t *testing.T, rData map[string]testResp) (*Client, *httptest.Server, *[]testReq) {
	t.Helper()
	gotRequests := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		b, _ := io.ReadAll(req.Body)
		gotRequests = append(gotRequests, testReq{URL: req.URL.String(), body: string(b),
			auth: req.Header.Get("Authorization")})
		resp, f := rData[req.URL.Path]
		if f {
			rw.WriteHeader(resp.code)
			rw.Write([]byte(resp.resp))
		}
	}))
	cl := Client{}
	cl.httpclient = server.Client()
	cl.url = server.URL
	cl.token = "testToken"
	return &cl, server, &gotRequests
}

func TestPostMessage(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/chat.postMessage": {code: 200, resp: `{"ok":true}`}})
	defer server.Close()

	err := cl.PostMessage("C1", "123.456", "labas")

	assert.Nil(t, err)
	assert.Equal(t, 1, len(*tReq))
	assert.Equal(t, "Bearer testToken", (*tReq)[0].auth)
	assert.Contains(t, (*tReq)[0].body, `"channel":"C1"`)
	assert.Contains(t, (*tReq)[0].body, `"thread_ts":"123.456"`)
	assert.Contains(t, (*tReq)[0].body, "labas")
}

func TestPostMessage_NoThread(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/chat.postMessage": {code: 200, resp: `{"ok":true}`}})
	defer server.Close()

	err := cl.PostMessage("C1", "", "labas")

	assert.Nil(t, err)
	assert.NotContains(t, (*tReq)[0].body, "thread_ts")
}

func TestPostMessage_APIError_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]testResp{
		"/chat.postMessage": {code: 200, resp: `{"ok":false,"error":"channel_not_found"}`}})
	defer server.Close()

	err := cl.PostMessage("C1", "", "labas")

	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestPostAction(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/chat.postMessage": {code: 200, resp: `{"ok":true}`}})
	defer server.Close()

	err := cl.PostAction("C1", "123.456", "pasirink",
		Action{ActionID: "translate_artifact", Label: "Переклад", Value: `{"file_id":"F1"}`},
		Action{ActionID: "cleanup_artifact", Label: "Чистка", Value: `{"file_id":"F1"}`})

	assert.Nil(t, err)
	body := (*tReq)[0].body
	assert.Contains(t, body, "translate_artifact")
	assert.Contains(t, body, "cleanup_artifact")
	assert.Contains(t, body, `"type":"button"`)
}

func TestGetFileInfo(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/files.info": {code: 200,
			resp: `{"ok":true,"file":{"id":"F1","name":"olia.mp3","size":100,"mimetype":"audio/mpeg","url_private":"http://x/f","shares":{"public":{"C1":[{"ts":"12.34"}]}}}}`}})
	defer server.Close()

	fi, err := cl.GetFileInfo("F1")

	assert.Nil(t, err)
	assert.Equal(t, "F1", fi.ID)
	assert.Equal(t, "olia.mp3", fi.Name)
	assert.Equal(t, "12.34", fi.ThreadTS("C1"))
	assert.Contains(t, (*tReq)[0].URL, "file=F1")
}

func TestGetFileInfo_NoID_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]testResp{
		"/files.info": {code: 200, resp: `{"ok":true,"file":{"name":"olia.mp3"}}`}})
	defer server.Close()

	fi, err := cl.GetFileInfo("F1")

	assert.Nil(t, fi)
	assert.NotNil(t, err)
}

func TestGetUserName(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]testResp{
		"/users.info": {code: 200,
			resp: `{"ok":true,"user":{"name":"olia","profile":{"display_name":"Olia P"}}}`}})
	defer server.Close()

	name, err := cl.GetUserName("U1")

	assert.Nil(t, err)
	assert.Equal(t, "Olia P", name)
}

func TestGetUserName_FallsBackToAccountName(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]testResp{
		"/users.info": {code: 200, resp: `{"ok":true,"user":{"name":"olia","profile":{}}}`}})
	defer server.Close()

	name, err := cl.GetUserName("U1")

	assert.Nil(t, err)
	assert.Equal(t, "olia", name)
}

func TestUploadFile(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/files.upload": {code: 200, resp: `{"ok":true,"file":{"id":"F9"}}`}})
	defer server.Close()
	path := filepath.Join(t.TempDir(), "olia.txt")
	assert.Nil(t, os.WriteFile(path, []byte("transcript data"), 0644))

	id, err := cl.UploadFile(context.Background(), FileUpload{
		ChannelID: "C1", ThreadTS: "12.34", Path: path, Title: "olia.txt", Comment: "ok"})

	assert.Nil(t, err)
	assert.Equal(t, "F9", id)
	body := (*tReq)[0].body
	assert.Contains(t, body, "transcript data")
	assert.Contains(t, body, "thread_ts")
	assert.Contains(t, body, "initial_comment")
}

func TestDownload(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]testResp{
		"/private/f": {code: 200, resp: "file data"}})
	defer server.Close()
	var buf bytes.Buffer

	err := cl.Download(context.Background(), server.URL+"/private/f", &buf)

	assert.Nil(t, err)
	assert.Equal(t, "file data", buf.String())
	assert.Equal(t, "Bearer testToken", (*tReq)[0].auth)
}

func TestDownload_WrongCode_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]testResp{
		"/private/f": {code: 404, resp: "not found"}})
	defer server.Close()

	err := cl.Download(context.Background(), server.URL+"/private/f", &bytes.Buffer{})

	assert.NotNil(t, err)
}
