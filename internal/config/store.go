package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DomainConfig is the per-domain identity persisted by the Configuration
// Store: the rendezvous URI, the device id it assigned, this device's
// fingerprint, and (optionally) a saved password for unattended visits.
type DomainConfig struct {
	URI         string `yaml:"uri"`
	DeviceID    int64  `yaml:"device_id"`
	Fingerprint []byte `yaml:"fingerprint"`
	Password    string `yaml:"password,omitempty"`
}

type storeFile struct {
	Primary string                  `yaml:"primary"`
	Domains map[string]DomainConfig `yaml:"domains"`
}

// Store is the on-disk Configuration Store:
// read/save of the primary domain name and per-domain identity, backed by
// a single YAML file on disk. One Store instance owns one path; all reads
// and writes go through its mutex so concurrent signaling/registration
// flows never interleave a partial write.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (without yet reading) the store file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (storeFile, error) {
	var f storeFile
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		f.Domains = map[string]DomainConfig{}
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("config store: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config store: parse %s: %w", s.path, err)
	}
	if f.Domains == nil {
		f.Domains = map[string]DomainConfig{}
	}
	return f, nil
}

func (s *Store) save(f storeFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config store: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config store: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("config store: write %s: %w", s.path, err)
	}
	return nil
}

// ReadPrimaryDomain returns the configured primary domain name, or "" if
// none has been set.
func (s *Store) ReadPrimaryDomain() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", err
	}
	return f.Primary, nil
}

// SavePrimaryDomain sets the primary domain name.
func (s *Store) SavePrimaryDomain(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Primary = name
	return s.save(f)
}

// ReadDomainConfig returns the DomainConfig for name, and ok=false if no
// such domain has been configured.
func (s *Store) ReadDomainConfig(name string) (DomainConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return DomainConfig{}, false, err
	}
	dc, ok := f.Domains[name]
	return dc, ok, nil
}

// SaveDomainConfig upserts the DomainConfig for name.
func (s *Store) SaveDomainConfig(name string, dc DomainConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Domains[name] = dc
	return s.save(f)
}
