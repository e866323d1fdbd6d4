package events

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// NopJournal discards events.
type NopJournal struct{}

func NewNopJournal() *NopJournal  { return &NopJournal{} }
func (*NopJournal) Publish(Event) {}

// FileJournal appends each event as one JSON line to a file. Append-only;
// consumers replay the file to rebuild an off-core index.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Publish(e Event) {
	data, err := json.Marshal(Wrap(e))
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, string(data))
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Sink = (*NopJournal)(nil)
var _ Sink = (*FileJournal)(nil)
