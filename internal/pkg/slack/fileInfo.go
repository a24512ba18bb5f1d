package slack

import (
	"github.com/pkg/errors"
)

// ShareRef points to the message a file was shared with
type ShareRef struct {
	TS string `json:"ts"`
}

// Shares keeps per channel share references as Slack reports them
type Shares struct {
	Public  map[string][]ShareRef `json:"public"`
	Private map[string][]ShareRef `json:"private"`
}

// FileInfo is the file metadata returned by files.info
type FileInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Mimetype   string `json:"mimetype"`
	Filetype   string `json:"filetype"`
	Size       int64  `json:"size"`
	URLPrivate string `json:"url_private"`
	Shares     Shares `json:"shares"`
}

// Validate fails fast on a response missing required fields
func (fi *FileInfo) Validate() error {
	if fi.ID == "" {
		return errors.New("file info without id")
	}
	if fi.Name == "" {
		return errors.New("file info without name")
	}
	return nil
}

// ThreadTS extracts the thread reference for the given channel from share info
func (fi *FileInfo) ThreadTS(channelID string) string {
	if refs, ok := fi.Shares.Public[channelID]; ok && len(refs) > 0 {
		return refs[0].TS
	}
	if refs, ok := fi.Shares.Private[channelID]; ok && len(refs) > 0 {
		return refs[0].TS
	}
	return ""
}
