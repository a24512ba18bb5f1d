package collector_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transponster/bot/internal/app/collector"
	"github.com/transponster/bot/internal/app/pipeline"
	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/slack"
	"github.com/transponster/bot/internal/pkg/transcriber"
)

type fakeChat struct {
	lock    sync.Mutex
	infos   map[string]*slack.FileInfo
	msgs    []string
	uploads []string
}

func (f *fakeChat) GetFileInfo(fileID string) (*slack.FileInfo, error) {
	return f.infos[fileID], nil
}

func (f *fakeChat) PostMessage(channelID, threadTS, text string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeChat) PostAction(channelID, threadTS, text string, actions ...slack.Action) error {
	return nil
}

func (f *fakeChat) UploadFile(ctx context.Context, up slack.FileUpload) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.uploads = append(f.uploads, up.Title)
	return "A" + up.Title, nil
}

func (f *fakeChat) Download(ctx context.Context, url string, w io.Writer) error {
	_, err := w.Write([]byte("audio data"))
	return err
}

type fakeASR struct {
}

func (f *fakeASR) Transcribe(ctx context.Context, filePath string, notify transcriber.Notify) (*transcriber.Result, error) {
	return &transcriber.Result{Text: "Labas.", Words: []transcriber.Word{
		{Text: "Labas.", Type: "word", Start: 0.0, End: 0.5, SpeakerID: "speaker_0"}}}, nil
}

type fixedResolver struct {
}

func (r fixedResolver) Resolve(fileID, channelID string) (string, error) {
	return "12.34", nil
}

// One batch of three uploads: a valid audio file, an oversized one and a
// non media document. The siblings fail on their own, the valid file is
// still transcribed and delivered.
func TestBatch_SiblingFailuresIsolated(t *testing.T) {
	cmdapp.Config.Set("batch.window", "30ms")
	t.Cleanup(func() { cmdapp.Config.Set("batch.window", "3s") })

	chat := &fakeChat{infos: map[string]*slack.FileInfo{
		"FA": {ID: "FA", Name: "meeting.mp3", Mimetype: "audio/mpeg", Size: 1000,
			URLPrivate: "http://s/fa"},
		"FB": {ID: "FB", Name: "huge.mp4", Mimetype: "video/mp4", Size: pipeline.MaxFileSize + 1,
			URLPrivate: "http://s/fb"},
		"FC": {ID: "FC", Name: "report.pdf", Mimetype: "application/pdf", Size: 100,
			URLPrivate: "http://s/fc"},
	}}
	pipe, err := pipeline.NewService(&pipeline.ServiceData{
		Files: chat, Msg: chat, Actions: chat, Uploader: chat, Downloader: chat,
		Transcriber: &fakeASR{}, WorkDir: t.TempDir(),
	})
	assert.Nil(t, err)
	c, err := collector.NewCollector(pipe, chat, fixedResolver{})
	assert.Nil(t, err)

	c.Submit(collector.UploadEvent{FileID: "FA", UserID: "U1", ChannelID: "C1"})
	c.Submit(collector.UploadEvent{FileID: "FB", UserID: "U1", ChannelID: "C1"})
	c.Submit(collector.UploadEvent{FileID: "FC", UserID: "U1", ChannelID: "C1"})

	assert.Eventually(t, func() bool {
		chat.lock.Lock()
		defer chat.lock.Unlock()
		return len(chat.uploads) == 1 && len(chat.msgs) == 3
	}, 3*time.Second, 10*time.Millisecond)

	chat.lock.Lock()
	defer chat.lock.Unlock()
	assert.Equal(t, []string{"meeting.txt"}, chat.uploads)
	assert.Contains(t, chat.msgs[0], "3 файли")
	all := strings.Join(chat.msgs, "\n")
	assert.Contains(t, all, "занадто великий")
	assert.Contains(t, all, "не схожий")
	assert.NotContains(t, all, "щось пішло не так")
}
