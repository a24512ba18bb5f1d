package mapping

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
)

// Store keeps the delivered artifact ID to archived document ID map
// in one JSON file. Written when archival completes, read when a
// translation action fires.
type Store struct {
	path string
	lock sync.Mutex
}

// NewStore prepares the store, creating the data dir if needed
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("No mapping file path provided")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "Can't create mapping dir")
	}
	return &Store{path: path}, nil
}

// Save stores one artifact to document mapping
func (s *Store) Save(fileID, docID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	data := s.load()
	data[fileID] = docID
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Can't marshal mappings")
	}
	return errors.Wrap(os.WriteFile(s.path, bytes, 0644), "Can't save mappings")
}

// Get returns the archived document ID for an artifact, if known
func (s *Store) Get(fileID string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	docID, ok := s.load()[fileID]
	return docID, ok
}

// load reads the file, degrading to an empty map on any failure
func (s *Store) load() map[string]string {
	res := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			cmdapp.Log.Warnf("Can't read mapping file %s: %v", s.path, err)
		}
		return res
	}
	if err := json.Unmarshal(data, &res); err != nil {
		cmdapp.Log.Warnf("Can't parse mapping file %s, starting empty: %v", s.path, err)
		return make(map[string]string)
	}
	return res
}
