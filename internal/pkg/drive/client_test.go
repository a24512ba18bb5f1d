package drive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testReq struct {
	URL  string
	body string
}

func initTestServer(t *testing.T, rData map[string]string) (*Client, *httptest.Server, *[]testReq) {
	t.Helper()
	gotRequests := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		b, _ := io.ReadAll(req.Body)
		gotRequests = append(gotRequests, testReq{URL: req.URL.String(), body: string(b)})
		resp, f := rData[req.URL.Path]
		if !f {
			rw.WriteHeader(404)
			return
		}
		rw.Write([]byte(resp))
	}))
	cl := Client{}
	cl.httpclient = server.Client()
	cl.url = server.URL
	cl.key = "testKey"
	cl.rootID = "root1"
	return &cl, server, &gotRequests
}

func TestEnsureFolder(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]string{
		"/folders": `{"folder":{"id":"fo1","link":"http://d/fo1"},"created":true}`})
	defer server.Close()

	f, created, err := cl.EnsureFolder(context.Background(), "olia")

	assert.Nil(t, err)
	assert.True(t, created)
	assert.Equal(t, "fo1", f.ID)
	assert.Equal(t, "http://d/fo1", f.Link)
	assert.Contains(t, (*tReq)[0].body, `"name":"olia"`)
	assert.Contains(t, (*tReq)[0].body, `"parent":"root1"`)
}

func TestEnsureFolder_NoID_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]string{"/folders": `{"created":false}`})
	defer server.Close()

	f, _, err := cl.EnsureFolder(context.Background(), "olia")

	assert.Nil(t, f)
	assert.NotNil(t, err)
}

func TestUploadDoc(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]string{
		"/documents": `{"id":"doc1","link":"http://d/doc1"}`})
	defer server.Close()

	d, err := cl.UploadDoc(context.Background(), "fo1", "olia", "transcript text")

	assert.Nil(t, err)
	assert.Equal(t, "doc1", d.ID)
	assert.Contains(t, (*tReq)[0].body, "transcript text")
	assert.Contains(t, (*tReq)[0].body, `"folder":"fo1"`)
}

func TestUpdateDoc(t *testing.T) {
	cl, server, tReq := initTestServer(t, map[string]string{
		"/documents/doc1": `{"id":"doc1"}`})
	defer server.Close()

	err := cl.UpdateDoc(context.Background(), "doc1", "new text")

	assert.Nil(t, err)
	assert.Contains(t, (*tReq)[0].body, "new text")
}

func TestUploadDoc_WrongCode_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, map[string]string{})
	defer server.Close()

	d, err := cl.UploadDoc(context.Background(), "fo1", "olia", "text")

	assert.Nil(t, d)
	assert.NotNil(t, err)
}
