package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/transponster/bot/internal/app/collector"
	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/drive"
	"github.com/transponster/bot/internal/pkg/metrics"
	"github.com/transponster/bot/internal/pkg/segment"
	"github.com/transponster/bot/internal/pkg/slack"
	"github.com/transponster/bot/internal/pkg/transcriber"
)

// MaxFileSize is the accepted upload size ceiling, decimal megabytes
const MaxFileSize = 1000 * 1000 * 1000

var supportedExtensions = []string{".mp3", ".wav", ".mp4", ".m4a", ".flac", ".ogg"}

// FileInfoGetter retrieves file metadata
type FileInfoGetter interface {
	GetFileInfo(fileID string) (*slack.FileInfo, error)
}

// Messenger posts chat messages
type Messenger interface {
	PostMessage(channelID, threadTS, text string) error
}

// ActionPoster posts messages with interactive buttons
type ActionPoster interface {
	PostAction(channelID, threadTS, text string, actions ...slack.Action) error
}

// Uploader delivers a local file back to the chat
type Uploader interface {
	UploadFile(ctx context.Context, up slack.FileUpload) (string, error)
}

// Downloader streams a remote file
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) error
}

// Transcriber converts a local media file to word level text, retrying internally
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string, notify transcriber.Notify) (*transcriber.Result, error)
}

// Archiver stores transcript copies in the document archive
type Archiver interface {
	EnsureFolder(ctx context.Context, name string) (*drive.Folder, bool, error)
	UploadDoc(ctx context.Context, folderID, name, content string) (*drive.Doc, error)
}

// UserGetter resolves a user ID to a display name
type UserGetter interface {
	GetUserName(userID string) (string, error)
}

// MappingSaver records delivered artifact to archived document links
type MappingSaver interface {
	Save(fileID, docID string) error
}

// ServiceData keeps the pipeline dependencies. Archiver and Mappings
// may be nil - archival is then skipped.
type ServiceData struct {
	Files       FileInfoGetter
	Msg         Messenger
	Actions     ActionPoster
	Uploader    Uploader
	Downloader  Downloader
	Transcriber Transcriber
	Archiver    Archiver
	Users       UserGetter
	Mappings    MappingSaver
	WorkDir     string
}

type serviceMetrics struct {
	files    *prometheus.CounterVec
	duration prometheus.Histogram
}

// Service runs the per file pipeline: validate, download, transcribe,
// segment, deliver, archive. It reports failures to the user itself
// and posts exactly one terminal message per file.
type Service struct {
	data    *ServiceData
	workers *semaphore.Weighted
	metrics serviceMetrics
}

// NewService validates dependencies and builds the pipeline
func NewService(data *ServiceData) (*Service, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	workers := cmdapp.Config.GetInt64("worker.count")
	if workers <= 0 {
		workers = 4
	}
	res := &Service{data: data, workers: semaphore.NewWeighted(workers)}
	res.metrics.files = metrics.NewFilesCounter()
	res.metrics.duration = metrics.NewTranscriptionDuration()
	metrics.Register(res.metrics.files)
	metrics.Register(res.metrics.duration)
	cmdapp.Log.Infof("Pipeline ready, %d transcription workers", workers)
	return res, nil
}

func validate(data *ServiceData) error {
	if data.Files == nil {
		return errors.New("No file info getter")
	}
	if data.Msg == nil {
		return errors.New("No messenger")
	}
	if data.Actions == nil {
		return errors.New("No action poster")
	}
	if data.Uploader == nil {
		return errors.New("No uploader")
	}
	if data.Downloader == nil {
		return errors.New("No downloader")
	}
	if data.Transcriber == nil {
		return errors.New("No transcriber")
	}
	if data.Archiver != nil && data.Users == nil {
		return errors.New("No user getter for archiver")
	}
	if data.WorkDir == "" {
		return errors.New("No work dir")
	}
	return nil
}

// Process handles one file end to end. It never returns an error -
// failures are reported to the user and counted.
func (s *Service) Process(ctx context.Context, job collector.Job) collector.ProcessResult {
	start := time.Now()
	res := collector.ProcessResult{}

	info, err := s.data.Files.GetFileInfo(job.FileID)
	if err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't get file info for %s", job.FileID))
		s.fail(job, job.FileID, err)
		return res
	}
	if skipFile(info) {
		cmdapp.Log.Infof("Skipping non media document %s (%s)", info.Name, info.Filetype)
		s.metrics.files.WithLabelValues("skipped").Inc()
		return res
	}
	if !isMedia(info) {
		cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS,
			fmt.Sprintf(":no_good: Сорі, файл `%s` не схожий на аудіо чи відео. Я вмію працювати з %s.",
				info.Name, strings.Join(supportedExtensions, ", "))))
		s.metrics.files.WithLabelValues("rejected_type").Inc()
		return res
	}
	if info.Size > MaxFileSize {
		cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS,
			fmt.Sprintf(":no_good: Сорі, файл `%s` занадто великий. Я вмію працювати з файлами до 1000 MB.",
				info.Name)))
		s.metrics.files.WithLabelValues("rejected_size").Inc()
		return res
	}

	tmpDir := filepath.Join(s.data.WorkDir, uuid.New().String())
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't create work dir"))
		s.fail(job, info.Name, err)
		return res
	}
	defer func() {
		cmdapp.LogIf(os.RemoveAll(tmpDir))
	}()

	local := filepath.Join(tmpDir, info.Name)
	if err := s.download(ctx, info, local); err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't download %s", info.Name))
		s.fail(job, info.Name, err)
		return res
	}

	result, err := s.transcribe(ctx, job, local)
	if err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't transcribe %s", info.Name))
		s.fail(job, info.Name, err)
		return res
	}

	mode := ClassifyMode(info.Name)
	base := strings.TrimSuffix(info.Name, filepath.Ext(info.Name))
	cmdapp.Log.Infof("Transcribed %s, mode %s", info.Name, mode)

	if mode == ModeSubtitles || mode == ModeBoth {
		srt := segment.RenderSRT(segment.SubtitleCues(result.Words, 0, 0))
		comment := fmt.Sprintf(":heavy_check_mark: Все вийшло! Ось субтитри для файлу `%s`.", info.Name)
		if _, err := s.deliver(ctx, job, tmpDir, base+".srt", srt, comment, ""); err != nil {
			cmdapp.Log.Error(err)
			s.fail(job, info.Name, err)
			return res
		}
	}
	if mode == ModeTranscript || mode == ModeBoth {
		txt := segment.RenderTranscript(result)
		docID := s.archive(ctx, job, base, txt, &res)
		comment := fmt.Sprintf(":heavy_check_mark: Все вийшло! Ось розшифровка файлу `%s`.", info.Name)
		artifactID, err := s.deliver(ctx, job, tmpDir, base+".txt", txt, comment, docID)
		if err != nil {
			cmdapp.Log.Error(err)
			s.fail(job, info.Name, err)
			return res
		}
		if docID != "" && s.data.Mappings != nil {
			cmdapp.LogIf(s.data.Mappings.Save(artifactID, docID))
		}
	}

	s.metrics.files.WithLabelValues("done").Inc()
	s.metrics.duration.Observe(time.Since(start).Seconds())
	return res
}

// transcribe runs the recognition under the worker bound, telling the
// user when a retry happens
func (s *Service) transcribe(ctx context.Context, job collector.Job, path string) (*transcriber.Result, error) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.workers.Release(1)
	return s.data.Transcriber.Transcribe(ctx, path, func(err error) {
		cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS,
			fmt.Sprintf(":warning: Сервіс розпізнавання збійнув, пробую ще раз. Помилка: %s", errText(err))))
	})
}

func (s *Service) download(ctx context.Context, info *slack.FileInfo, path string) error {
	if info.URLPrivate == "" {
		return errors.New("file info without download url")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()
	return s.data.Downloader.Download(ctx, info.URLPrivate, file)
}

// deliver writes the artifact next to the media file, uploads it and
// attaches transform buttons. Returns the delivered artifact ID.
func (s *Service) deliver(ctx context.Context, job collector.Job, dir, name, content, comment, docID string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "Can't write %s", name)
	}
	artifactID, err := s.data.Uploader.UploadFile(ctx, slack.FileUpload{
		ChannelID: job.ChannelID, ThreadTS: job.ThreadTS,
		Path: path, Title: name, Comment: comment,
	})
	if err != nil {
		return "", errors.Wrapf(err, "Can't upload %s", name)
	}
	value, err := actionValue(artifactID, name, docID)
	if err != nil {
		return "", err
	}
	cmdapp.LogIf(s.data.Actions.PostAction(job.ChannelID, job.ThreadTS,
		"Можу ще перекласти або почистити текст:",
		slack.Action{ActionID: "translate_artifact", Label: "Переклад", Value: value},
		slack.Action{ActionID: "cleanup_artifact", Label: "Чистка", Value: value}))
	return artifactID, nil
}

func actionValue(fileID, fileName, docID string) (string, error) {
	data, err := json.Marshal(map[string]string{
		"file_id": fileID, "file_name": fileName, "doc_id": docID})
	if err != nil {
		return "", errors.Wrap(err, "Can't marshal action value")
	}
	return string(data), nil
}

// archive stores the transcript in the per user document folder.
// Failures never abort the pipeline. Returns the created document ID.
func (s *Service) archive(ctx context.Context, job collector.Job, name, content string, res *collector.ProcessResult) string {
	if s.data.Archiver == nil {
		return ""
	}
	userName, err := s.data.Users.GetUserName(job.UserID)
	if err != nil {
		s.archiveFailed(job, errors.Wrap(err, "Can't resolve user name"))
		return ""
	}
	folder, created, err := s.data.Archiver.EnsureFolder(ctx, userName)
	if err != nil {
		s.archiveFailed(job, errors.Wrap(err, "Can't ensure folder"))
		return ""
	}
	doc, err := s.data.Archiver.UploadDoc(ctx, folder.ID, name, content)
	if err != nil {
		s.archiveFailed(job, errors.Wrap(err, "Can't upload document"))
		return ""
	}

	res.DocName = name
	res.DocLink = doc.Link
	res.FolderLink = folder.Link
	res.FolderCreated = created
	if job.BatchSize <= 1 {
		text := fmt.Sprintf(":open_file_folder: Цю розшифровку ти також знайдеш в <%s|оцій папці> як Word документ. <%s|Ось твоє посилання на файл>.",
			folder.Link, doc.Link)
		if created {
			text = fmt.Sprintf(":open_file_folder: Я створив <%s|папку>, де зберігатиму твої розшифровки. <%s|Ось посилання на документ> `%s`.",
				folder.Link, doc.Link, name)
		}
		cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS, text))
	}
	return doc.ID
}

func (s *Service) archiveFailed(job collector.Job, err error) {
	cmdapp.Log.Error(err)
	cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS,
		":warning: Не вийшло зберегти копію в архів, але файл вище актуальний."))
}

// fail posts the single terminal failure message for the file
func (s *Service) fail(job collector.Job, name string, err error) {
	s.metrics.files.WithLabelValues("failed").Inc()
	cmdapp.LogIf(s.data.Msg.PostMessage(job.ChannelID, job.ThreadTS,
		fmt.Sprintf(":expressionless: Сорі, щось пішло не так з файлом `%s`. Спробуй ще раз пізніше. Помилка: %s",
			name, errText(err))))
}

// errText keeps the user visible error summary short
func errText(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// skipFile drops platform native documents silently
func skipFile(info *slack.FileInfo) bool {
	return info.Filetype == "quip" || strings.HasPrefix(info.Mimetype, "text/")
}

func isMedia(info *slack.FileInfo) bool {
	if strings.HasPrefix(info.Mimetype, "audio/") || strings.HasPrefix(info.Mimetype, "video/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(info.Name))
	for _, e := range supportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
