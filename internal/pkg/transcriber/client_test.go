package transcriber

import (
	"context"
	"errors"
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
	body   string
	apiKey string
}

func initTestServer(t *testing.T, responses []testResp) (*Client, *httptest.Server, *[]testReq) {
	t.Helper()
	gotRequests := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		b, _ := io.ReadAll(req.Body)
		gotRequests = append(gotRequests, testReq{body: string(b), apiKey: req.Header.Get("xi-api-key")})
		resp := responses[0]
		if len(responses) > 1 {
			responses = responses[1:]
		}
		rw.WriteHeader(resp.code)
		rw.Write([]byte(resp.resp))
	}))
	cl := Client{}
	cl.httpclient = server.Client()
	cl.url = server.URL
	cl.key = "testKey"
	cl.model = "scribe_v1"
	return &cl, server, &gotRequests
}

func testFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "olia.mp3")
	assert.Nil(t, os.WriteFile(path, []byte("audio data"), 0644))
	return path
}

func TestTranscribe(t *testing.T) {
	cl, server, tReq := initTestServer(t, []testResp{{code: 200,
		resp: `{"text":"olia text","words":[{"text":"olia","type":"word","start":0.1,"end":0.5,"speaker_id":"speaker_0"}]}`}})
	defer server.Close()

	r, err := cl.Transcribe(context.Background(), testFile(t))

	assert.Nil(t, err)
	assert.Equal(t, "olia text", r.Text)
	assert.Equal(t, 1, len(r.Words))
	assert.Equal(t, "speaker_0", r.Words[0].SpeakerID)
	assert.Equal(t, 1, len(*tReq))
	assert.Equal(t, "testKey", (*tReq)[0].apiKey)
	assert.Contains(t, (*tReq)[0].body, "model_id")
	assert.Contains(t, (*tReq)[0].body, "scribe_v1")
	assert.Contains(t, (*tReq)[0].body, "diarize")
	assert.Contains(t, (*tReq)[0].body, "audio data")
}

func TestTranscribe_ServerError(t *testing.T) {
	cl, server, _ := initTestServer(t, []testResp{{code: 503, resp: "down"}})
	defer server.Close()

	r, err := cl.Transcribe(context.Background(), testFile(t))

	assert.Nil(t, r)
	var srvErr *ServerError
	assert.ErrorAs(t, err, &srvErr)
	assert.Equal(t, 503, srvErr.Code)
}

func TestTranscribe_ClientError_NotRetryable(t *testing.T) {
	cl, server, _ := initTestServer(t, []testResp{{code: 422, resp: "wrong file"}})
	defer server.Close()

	r, err := cl.Transcribe(context.Background(), testFile(t))

	assert.Nil(t, r)
	assert.NotNil(t, err)
	var srvErr *ServerError
	assert.False(t, errors.As(err, &srvErr))
}

func TestTranscribe_WrongJSON_Fails(t *testing.T) {
	cl, server, _ := initTestServer(t, []testResp{{code: 200, resp: "olia"}})
	defer server.Close()

	r, err := cl.Transcribe(context.Background(), testFile(t))

	assert.Nil(t, r)
	assert.NotNil(t, err)
}

func TestTranscribe_NoFile_Fails(t *testing.T) {
	cl, server, tReq := initTestServer(t, []testResp{{code: 200, resp: "{}"}})
	defer server.Close()

	r, err := cl.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))

	assert.Nil(t, r)
	assert.NotNil(t, err)
	assert.Equal(t, 0, len(*tReq))
}
