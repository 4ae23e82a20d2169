// v0
// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPollingInterval is applied to records that do not set one (seconds).
const DefaultPollingInterval = 60

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("instance not found")
	// ErrInvalidRecord wraps every validation failure.
	ErrInvalidRecord = errors.New("invalid instance record")
)

// Record is the persisted configuration of one decision-loop instance.
type Record struct {
	ID              string              `yaml:"id" json:"id"`
	Name            string              `yaml:"name,omitempty" json:"name,omitempty"`
	URL             string              `yaml:"url" json:"url"`
	Dialect         string              `yaml:"dialect,omitempty" json:"dialect,omitempty"`
	Model           string              `yaml:"model,omitempty" json:"model,omitempty"`
	Sensors         []string            `yaml:"sensors" json:"sensors"`
	ZoneMappings    map[string]string   `yaml:"zone_mappings,omitempty" json:"zone_mappings,omitempty"`
	ActionMappings  map[string][]string `yaml:"action_mappings,omitempty" json:"action_mappings,omitempty"`
	PollingInterval int                 `yaml:"polling_interval,omitempty" json:"polling_interval"`
}

// Validate checks identity, interval and that every zone-mapped sensor is configured.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.PollingInterval < 0 {
		return fmt.Errorf("%w: %s: polling_interval must be positive", ErrInvalidRecord, r.ID)
	}
	known := make(map[string]struct{}, len(r.Sensors))
	for _, s := range r.Sensors {
		known[s] = struct{}{}
	}
	for sensor := range r.ZoneMappings {
		if _, ok := known[sensor]; !ok {
			return fmt.Errorf("%w: %s: zone mapping for unconfigured sensor %s", ErrInvalidRecord, r.ID, sensor)
		}
	}
	return nil
}

// WithDefaults fills the polling interval.
func (r Record) WithDefaults() Record {
	if r.PollingInterval == 0 {
		r.PollingInterval = DefaultPollingInterval
	}
	return r
}

type document struct {
	Instances []Record `yaml:"instances"`
}

// FileStore keeps all records in one YAML file. Every Save rewrites the whole
// file through a temp file and rename.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// Open loads path. A missing file yields an empty store.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]Record)}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, rec := range doc.Instances {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.records[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, rec.ID)
		}
		s.records[rec.ID] = rec.WithDefaults()
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// List returns all records ordered by id.
func (s *FileStore) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FileStore) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r), nil
}

// Save replaces the record with the same id and rewrites the file. The
// in-memory view only changes when the write succeeds.
func (s *FileStore) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = clone(rec.WithDefaults())
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Record, len(s.records)+1)
	for id, r := range s.records {
		next[id] = r
	}
	next[rec.ID] = rec
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *FileStore) write(records map[string]Record) error {
	doc := document{Instances: make([]Record, 0, len(records))}
	for _, r := range records {
		doc.Instances = append(doc.Instances, r)
	}
	sort.Slice(doc.Instances, func(i, j int) bool { return doc.Instances[i].ID < doc.Instances[j].ID })
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode instances: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".instances-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func clone(r Record) Record {
	out := r
	out.Sensors = append([]string(nil), r.Sensors...)
	if r.ZoneMappings != nil {
		out.ZoneMappings = make(map[string]string, len(r.ZoneMappings))
		for k, v := range r.ZoneMappings {
			out.ZoneMappings[k] = v
		}
	}
	if r.ActionMappings != nil {
		out.ActionMappings = make(map[string][]string, len(r.ActionMappings))
		for k, v := range r.ActionMappings {
			out.ActionMappings[k] = append([]string(nil), v...)
		}
	}
	return out
}
