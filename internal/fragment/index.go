package fragment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// IndexSchema is bumped whenever the Index layout changes.
const IndexSchema uint16 = 1

// IndexFile is the file name of the retained index inside a scratch dir.
const IndexFile = "index.mp"

// Entry describes one fragment of a retained run.
type Entry struct {
	ID       ID     `msgpack:"id"                 json:"id"`
	State    State  `msgpack:"state"              json:"state"`
	Size     int64  `msgpack:"size"               json:"size"`
	Location string `msgpack:"location,omitempty" json:"location,omitempty"`
}

// Index describes the intermediates a run kept on disk.
type Index struct {
	Schema      uint16    `msgpack:"schema"      json:"schema"`
	Destination string    `msgpack:"destination" json:"destination"`
	Backing     string    `msgpack:"backing"     json:"backing"`
	Created     time.Time `msgpack:"created"     json:"created"`
	Combined    bool      `msgpack:"combined"    json:"combined"`
	Fragments   []Entry   `msgpack:"fragments"   json:"fragments"`
}

// Entries lists the allocated fragments in ascending id order.
func (s *Store) Entries() []Entry {
	ids := s.IDs()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		f := s.frags[id]
		out = append(out, Entry{
			ID:       id,
			State:    f.state,
			Size:     f.backing.Size(),
			Location: f.backing.Location(),
		})
	}
	return out
}

// WriteIndex stores idx as dir/IndexFile, replacing any previous index.
func WriteIndex(dir string, idx *Index) error {
	if idx == nil {
		return errors.New("nil index")
	}
	idx.Schema = IndexSchema
	tmp, err := os.CreateTemp(dir, "index-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := msgpack.NewEncoder(tmp).Encode(idx); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, IndexFile))
}

// ReadIndex loads dir/IndexFile.
func ReadIndex(dir string) (*Index, error) {
	path := filepath.Join(dir, IndexFile)
	// #nosec G304 -- scratch dir is supplied by the user
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var idx Index
	if err := msgpack.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("%s: decode index: %w", path, err)
	}
	if idx.Schema != IndexSchema {
		return nil, fmt.Errorf("%s: unsupported index schema %d (want %d)", path, idx.Schema, IndexSchema)
	}
	return &idx, nil
}
