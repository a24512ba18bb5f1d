package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/metrics"
)

// UploadEvent is one inbound file upload notification
type UploadEvent struct {
	FileID    string
	UserID    string
	ChannelID string
}

// Validate fails fast on an event missing required fields
func (e UploadEvent) Validate() error {
	if e.FileID == "" {
		return errors.New("event without file id")
	}
	if e.UserID == "" {
		return errors.New("event without user id")
	}
	if e.ChannelID == "" {
		return errors.New("event without channel id")
	}
	return nil
}

// Job is one unit of per file work handed to the pipeline
type Job struct {
	FileID    string
	UserID    string
	ChannelID string
	ThreadTS  string
	BatchSize int
}

// ProcessResult carries optional archival info back for the batch summary
type ProcessResult struct {
	DocName       string
	DocLink       string
	FolderLink    string
	FolderCreated bool
}

// Runner processes one file end to end. It never panics and reports
// failures to the user itself.
type Runner interface {
	Process(ctx context.Context, job Job) ProcessResult
}

// Messenger posts chat messages
type Messenger interface {
	PostMessage(channelID, threadTS, text string) error
}

// ThreadResolver finds the thread reference for a shared file
type ThreadResolver interface {
	Resolve(fileID, channelID string) (string, error)
}

type batchKey struct {
	userID    string
	channelID string
}

type batch struct {
	fileIDs  []string
	threadTS string
}

// Collector debounces upload events per (user, channel) key into batches.
// The batch table and the processed set are the only shared mutable state,
// both behind one lock that is never held across a network call.
type Collector struct {
	window  time.Duration
	runner  Runner
	msg     Messenger
	threads ThreadResolver

	// injectable for tests
	afterFunc func(d time.Duration, f func()) *time.Timer

	batchSize prometheus.Histogram

	lock      sync.Mutex
	batches   map[batchKey]*batch
	processed map[string]bool
}

// NewCollector creates the batching orchestrator
func NewCollector(runner Runner, msg Messenger, threads ThreadResolver) (*Collector, error) {
	if runner == nil {
		return nil, errors.New("No runner")
	}
	if msg == nil {
		return nil, errors.New("No messenger")
	}
	if threads == nil {
		return nil, errors.New("No thread resolver")
	}
	window := cmdapp.Config.GetDuration("batch.window")
	if window <= 0 {
		window = 3 * time.Second
	}
	res := &Collector{
		window:    window,
		runner:    runner,
		msg:       msg,
		threads:   threads,
		afterFunc: time.AfterFunc,
		batches:   make(map[batchKey]*batch),
		processed: make(map[string]bool),
		batchSize: metrics.NewBatchSize(),
	}
	metrics.Register(res.batchSize)
	return res, nil
}

// Submit admits one upload event. Returns fast - the real work happens
// when the debounce timer fires.
func (c *Collector) Submit(ev UploadEvent) {
	if err := ev.Validate(); err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Dropping wrong event"))
		return
	}
	key := batchKey{userID: ev.UserID, channelID: ev.ChannelID}
	if c.tryAppend(key, ev.FileID) {
		return
	}

	// new batch - resolve the thread reference first, without the lock
	threadTS, err := c.threads.Resolve(ev.FileID, ev.ChannelID)
	if err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't resolve thread for %s, aborting event", ev.FileID))
		return
	}
	// the world may have changed while we were resolving - the re-check and
	// the create must happen in one critical section
	if !c.createOrAppend(key, ev.FileID, threadTS) {
		return
	}
	cmdapp.Log.Infof("Started batch for %s/%s with file %s", ev.UserID, ev.ChannelID, ev.FileID)
	c.afterFunc(c.window, func() { c.pop(key) })
}

// createOrAppend consumes the event under one lock, reporting whether a new
// batch was created and its timer must be started
func (c *Collector) createOrAppend(key batchKey, fileID, threadTS string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.processed[fileID] {
		cmdapp.Log.Infof("File %s already dispatched, dropping duplicate event", fileID)
		return false
	}
	if b, ok := c.batches[key]; ok {
		b.fileIDs = append(b.fileIDs, fileID)
		cmdapp.Log.Infof("Added file %s to open batch for %s/%s", fileID, key.userID, key.channelID)
		return false
	}
	c.batches[key] = &batch{fileIDs: []string{fileID}, threadTS: threadTS}
	return true
}

// tryAppend adds the file to an already open batch under the lock,
// reporting whether the event was consumed
func (c *Collector) tryAppend(key batchKey, fileID string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.processed[fileID] {
		cmdapp.Log.Infof("File %s already dispatched, dropping duplicate event", fileID)
		return true
	}
	if b, ok := c.batches[key]; ok {
		b.fileIDs = append(b.fileIDs, fileID)
		cmdapp.Log.Infof("Added file %s to open batch for %s/%s", fileID, key.userID, key.channelID)
		return true
	}
	return false
}

// pop consumes the batch when the debounce window ends
func (c *Collector) pop(key batchKey) {
	c.lock.Lock()
	b, ok := c.batches[key]
	if !ok {
		c.lock.Unlock()
		return
	}
	delete(c.batches, key)
	// order preserving dedup + processed marking in one pass
	ids := make([]string, 0, len(b.fileIDs))
	for _, id := range b.fileIDs {
		if !c.processed[id] {
			c.processed[id] = true
			ids = append(ids, id)
		}
	}
	c.lock.Unlock()

	if len(ids) == 0 {
		return
	}
	c.batchSize.Observe(float64(len(ids)))
	cmdapp.Log.Infof("Processing batch of %d files for %s/%s", len(ids), key.userID, key.channelID)
	cmdapp.LogIf(c.msg.PostMessage(key.channelID, b.threadTS, ackText(len(ids))))

	results := make([]ProcessResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = c.runner.Process(context.Background(), Job{
				FileID:    id,
				UserID:    key.userID,
				ChannelID: key.channelID,
				ThreadTS:  b.threadTS,
				BatchSize: len(ids),
			})
		}(i, id)
	}
	wg.Wait()

	if len(ids) > 1 {
		if text := summaryText(results); text != "" {
			cmdapp.LogIf(c.msg.PostMessage(key.channelID, b.threadTS, text))
		}
	}
}

func ackText(count int) string {
	if count == 1 {
		return ":saluting_face: Забираю в роботу. Відпишу тобі, коли я буду готовий, або якщо поламаюся."
	}
	return fmt.Sprintf(":saluting_face: Забираю в роботу %d %s. Відпишу тобі по кожному окремо, коли я буду готовий, або якщо поламаюся.",
		count, fileWord(count))
}

// fileWord picks the Ukrainian plural form for "файл"
func fileWord(count int) string {
	if count%10 == 1 && count%100 != 11 {
		return "файл"
	}
	if count%10 >= 2 && count%10 <= 4 && (count%100 < 10 || count%100 >= 20) {
		return "файли"
	}
	return "файлів"
}

// summaryText builds the batch level archive summary, empty when nothing was archived
func summaryText(results []ProcessResult) string {
	var folderLink string
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.DocLink == "" {
			continue
		}
		if folderLink == "" {
			folderLink = r.FolderLink
		}
		lines = append(lines, fmt.Sprintf("• <%s|Ось твоє посилання на файл> `%s`.", r.DocLink, r.DocName))
	}
	if len(lines) == 0 {
		return ""
	}
	head := fmt.Sprintf(":open_file_folder: Ці розшифровки ти також знайдеш в <%s|оцій папці> як Word документи.", folderLink)
	res := head
	for _, l := range lines {
		res += "\n" + l
	}
	return res
}
