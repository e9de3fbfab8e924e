package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jusunglee/reachability-go/pkg/models"
)

// File extensions for the two output layouts
const (
	AggregateExt  = ".acc_dump"
	IndividualExt = ".geojson"
)

// Store routes reachability results to output files. In aggregate mode each
// travel mode has one append-only JSON-Lines file; in individual mode every
// result gets a fresh file.
type Store struct {
	mu         sync.Mutex
	dir        string
	prefix     string
	individual bool
	files      map[models.TravelMode]*os.File
	written    map[models.TravelMode]int
	paths      []string
}

// NewStore creates a store writing into dir, which must already exist
func NewStore(dir, prefix string, individual bool) *Store {
	return &Store{
		dir:        dir,
		prefix:     prefix,
		individual: individual,
		files:      make(map[models.TravelMode]*os.File),
		written:    make(map[models.TravelMode]int),
	}
}

// Open creates the aggregate file for each mode. It is a no-op in
// individual mode.
func (s *Store) Open(modes []models.TravelMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.individual {
		return nil
	}

	for _, mode := range modes {
		if _, ok := s.files[mode]; ok {
			continue
		}
		f, _, err := s.create(mode, AggregateExt)
		if err != nil {
			return err
		}
		s.files[mode] = f
	}
	return nil
}

// Write stores results for mode in the given order. Every result is
// validated before the first one is written.
func (s *Store) Write(mode models.TravelMode, results []json.RawMessage) error {
	lines := make([][]byte, len(results))
	for i, result := range results {
		line, err := compactLine(result)
		if err != nil {
			return errors.Wrapf(err, "invalid %s result %d", mode, i)
		}
		lines[i] = line
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		var err error
		if s.individual {
			err = s.writeIndividual(mode, line)
		} else {
			err = s.appendAggregate(mode, line)
		}
		if err != nil {
			return err
		}
		s.written[mode]++
	}
	return nil
}

func (s *Store) appendAggregate(mode models.TravelMode, line []byte) error {
	f, ok := s.files[mode]
	if !ok {
		return fmt.Errorf("no output file opened for %s", mode)
	}
	if _, err := f.Write(line); err != nil {
		return errors.Wrapf(err, "failed to append to %s", f.Name())
	}
	return nil
}

func (s *Store) writeIndividual(mode models.TravelMode, line []byte) error {
	f, path, err := s.create(mode, IndividualExt)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// create opens a new uniquely named file; callers hold s.mu
func (s *Store) create(mode models.TravelMode, ext string) (*os.File, string, error) {
	name := fmt.Sprintf("%s_%s_%s%s", s.prefix, mode, uuid.NewString(), ext)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to create %s", path)
	}
	s.paths = append(s.paths, path)
	return f, path, nil
}

// Paths returns every file created so far, sorted
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, len(s.paths))
	copy(result, s.paths)
	sort.Strings(result)
	return result
}

// AggregatePath returns the aggregate file for mode, if one is open
func (s *Store) AggregatePath(mode models.TravelMode) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[mode]
	if !ok {
		return "", false
	}
	return f.Name(), true
}

// Written returns the number of results stored for mode
func (s *Store) Written(mode models.TravelMode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written[mode]
}

// Close closes all aggregate files, returning the first error
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, mode := range models.AllTravelModes {
		f, ok := s.files[mode]
		if !ok {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close %s", f.Name())
		}
		delete(s.files, mode)
	}
	return firstErr
}

// compactLine renders a JSON document on a single line terminated by '\n'
func compactLine(doc json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
