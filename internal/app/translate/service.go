package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/slack"
)

// Action kinds, matching the button action IDs
const (
	KindTranslate = "translate_artifact"
	KindCleanup   = "cleanup_artifact"
)

// Action is one pressed transform button
type Action struct {
	Kind      string
	FileID    string
	FileName  string
	DocID     string
	UserID    string
	ChannelID string
	ThreadTS  string
}

// Validate fails fast on an action missing required fields
func (a Action) Validate() error {
	if a.Kind != KindTranslate && a.Kind != KindCleanup {
		return errors.Errorf("unknown action kind '%s'", a.Kind)
	}
	if a.FileID == "" {
		return errors.New("action without file id")
	}
	if a.ChannelID == "" {
		return errors.New("action without channel id")
	}
	return nil
}

// FileInfoGetter retrieves file metadata
type FileInfoGetter interface {
	GetFileInfo(fileID string) (*slack.FileInfo, error)
}

// Messenger posts chat messages
type Messenger interface {
	PostMessage(channelID, threadTS, text string) error
}

// Uploader delivers a local file back to the chat
type Uploader interface {
	UploadFile(ctx context.Context, up slack.FileUpload) (string, error)
}

// Downloader streams a remote file
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) error
}

// Transformer maps lines to transformed lines, count and order preserved
type Transformer interface {
	Transform(ctx context.Context, lines []string) ([]string, error)
}

// DocUpdater replaces the content of an archived document
type DocUpdater interface {
	UpdateDoc(ctx context.Context, docID, content string) error
}

// MappingGetter finds the archived document for a delivered artifact
type MappingGetter interface {
	Get(fileID string) (string, bool)
}

// ServiceData keeps the transform handler dependencies. Translator and
// Cleaner may be nil when no language model is configured - the handler
// then tells the user the feature is off. Archive may be nil too.
type ServiceData struct {
	Files      FileInfoGetter
	Msg        Messenger
	Uploader   Uploader
	Downloader Downloader
	Translator Transformer
	Cleaner    Transformer
	Archive    DocUpdater
	Mappings   MappingGetter
	WorkDir    string
}

// Service transforms a delivered artifact when its button is pressed
type Service struct {
	data *ServiceData
}

// NewService validates dependencies and builds the handler
func NewService(data *ServiceData) (*Service, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	return &Service{data: data}, nil
}

func validate(data *ServiceData) error {
	if data.Files == nil {
		return errors.New("No file info getter")
	}
	if data.Msg == nil {
		return errors.New("No messenger")
	}
	if data.Uploader == nil {
		return errors.New("No uploader")
	}
	if data.Downloader == nil {
		return errors.New("No downloader")
	}
	if data.WorkDir == "" {
		return errors.New("No work dir")
	}
	return nil
}

// Handle runs one transform action end to end, reporting the outcome to the user
func (s *Service) Handle(ctx context.Context, a Action) {
	if err := a.Validate(); err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Dropping wrong action"))
		return
	}
	engine, verb := s.engine(a.Kind)
	if engine == nil {
		cmdapp.LogIf(s.data.Msg.PostMessage(a.ChannelID, a.ThreadTS,
			":no_good: Сорі, ця функція зараз не налаштована."))
		return
	}
	name := a.FileName
	if name == "" {
		name = a.FileID
	}
	cmdapp.LogIf(s.data.Msg.PostMessage(a.ChannelID, a.ThreadTS,
		fmt.Sprintf(":saluting_face: Забираю в роботу. Роблю %s файлу `%s`.", verb, name)))

	if err := s.transform(ctx, a, engine, verb); err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't transform %s", name))
		cmdapp.LogIf(s.data.Msg.PostMessage(a.ChannelID, a.ThreadTS,
			fmt.Sprintf(":expressionless: Сорі, щось пішло не так з файлом `%s`. Спробуй ще раз пізніше. Помилка: %s",
				name, errText(err))))
	}
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

func (s *Service) engine(kind string) (Transformer, string) {
	if kind == KindCleanup {
		return s.data.Cleaner, "чистку"
	}
	return s.data.Translator, "переклад"
}

func (s *Service) transform(ctx context.Context, a Action, engine Transformer, verb string) error {
	info, err := s.data.Files.GetFileInfo(a.FileID)
	if err != nil {
		return errors.Wrap(err, "Can't get artifact info")
	}
	var buf bytes.Buffer
	if err := s.data.Downloader.Download(ctx, info.URLPrivate, &buf); err != nil {
		return errors.Wrap(err, "Can't download artifact")
	}

	lines := strings.Split(buf.String(), "\n")
	indices := transformableLines(info.Name, lines)
	if len(indices) == 0 {
		return errors.New("nothing to transform")
	}
	input := make([]string, 0, len(indices))
	for _, i := range indices {
		input = append(input, lines[i])
	}
	output, err := engine.Transform(ctx, input)
	if err != nil {
		return err
	}
	for pos, i := range indices {
		lines[i] = output[pos]
	}
	content := strings.Join(lines, "\n")

	name := transformedName(info.Name, a.Kind)
	if err := s.deliver(ctx, a, name, content, verb); err != nil {
		return err
	}
	docID := a.DocID
	if docID == "" && s.data.Mappings != nil {
		docID, _ = s.data.Mappings.Get(a.FileID)
	}
	if docID != "" && s.data.Archive != nil {
		cmdapp.LogIf(errors.Wrap(s.data.Archive.UpdateDoc(ctx, docID, content),
			"Can't update archived document"))
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, a Action, name, content, verb string) error {
	dir := filepath.Join(s.data.WorkDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "Can't create work dir")
	}
	defer func() {
		cmdapp.LogIf(os.RemoveAll(dir))
	}()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "Can't write %s", name)
	}
	_, err := s.data.Uploader.UploadFile(ctx, slack.FileUpload{
		ChannelID: a.ChannelID, ThreadTS: a.ThreadTS,
		Path: path, Title: name,
		Comment: fmt.Sprintf(":heavy_check_mark: Готово! Ось %s файлу `%s`.", verb, a.FileName),
	})
	return errors.Wrapf(err, "Can't upload %s", name)
}

// transformableLines picks the text lines of an artifact, leaving cue
// indices, timestamps and headers untouched
func transformableLines(name string, lines []string) []int {
	srt := strings.EqualFold(filepath.Ext(name), ".srt")
	var res []int
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || strings.Contains(t, " --> ") {
			continue
		}
		if srt {
			if _, err := strconv.Atoi(t); err == nil {
				continue
			}
		}
		res = append(res, i)
	}
	return res
}

func transformedName(name, kind string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := ".translated"
	if kind == KindCleanup {
		suffix = ".cleaned"
	}
	return base + suffix + ext
}
