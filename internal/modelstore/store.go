// Package modelstore persists fitted transforms under a versioned layout:
//
//	<root>/<version>/model/<method>/t=<seconds>.json
//
// Each file is a JSON envelope holding an explicit metadata header and the
// kind-specific parameters. The header, not the path, is authoritative: it is
// validated against the requested key on every load. Files are replaced with
// write-temp-then-rename so concurrent readers never observe a partial model.
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/fsutil"
	"github.com/banshee-data/blelocate/internal/security"
	"github.com/banshee-data/blelocate/internal/transform"
)

// Key addresses one persisted transform.
type Key struct {
	Version    string
	Method     string
	TimeWindow time.Duration
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/t=%s", k.Version, k.Method, formatSeconds(k.TimeWindow))
}

func (k Key) validate() error {
	if err := security.ValidateSegment(k.Version); err != nil {
		return fmt.Errorf("invalid model version: %w", err)
	}
	if err := security.ValidateSegment(k.Method); err != nil {
		return fmt.Errorf("invalid model method: %w", err)
	}
	if k.TimeWindow <= 0 {
		return fmt.Errorf("invalid time window %s", k.TimeWindow)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// envelope is the on-disk representation.
type envelope struct {
	Header     transform.Header `json:"header"`
	Parameters json.RawMessage  `json:"parameters"`
}

// Encode serialises f into its on-disk form.
func Encode(f *transform.Fitted) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode invalid transform: %w", err)
	}
	var params any
	switch f.Kind {
	case transform.KindBoxCox:
		params = f.BoxCox
	default:
		params = f.Linear
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	return json.MarshalIndent(envelope{Header: f.Header, Parameters: raw}, "", "  ")
}

// Decode parses and validates an on-disk transform.
func Decode(data []byte) (*transform.Fitted, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	f := &transform.Fitted{Header: env.Header}
	switch env.Header.Kind {
	case transform.KindBoxCox:
		f.BoxCox = &transform.BoxCoxParams{}
		if err := json.Unmarshal(env.Parameters, f.BoxCox); err != nil {
			return nil, fmt.Errorf("parse box-cox parameters: %w", err)
		}
	case transform.KindLDA, transform.KindPCA:
		f.Linear = &transform.LinearParams{}
		if err := json.Unmarshal(env.Parameters, f.Linear); err != nil {
			return nil, fmt.Errorf("parse %s parameters: %w", env.Header.Kind, err)
		}
	default:
		return nil, fmt.Errorf("unknown transform kind %q", env.Header.Kind)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Store reads and writes transforms below a root directory.
type Store struct {
	fs   fsutil.FileSystem
	root string
}

// New returns a Store rooted at root.
func New(fsys fsutil.FileSystem, root string) *Store {
	return &Store{fs: fsys, root: filepath.Clean(root)}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Path returns the file path for key.
func (s *Store) Path(key Key) (string, error) {
	if err := key.validate(); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, key.Version, "model", key.Method, "t="+formatSeconds(key.TimeWindow)+".json")
	if err := security.ValidatePathWithinDirectory(p, s.root); err != nil {
		return "", err
	}
	return p, nil
}

// Save validates and atomically writes f under key. The header's method and
// time window must agree with the key.
func (s *Store) Save(key Key, f *transform.Fitted) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := checkHeader(key, f.Header); err != nil {
		return err
	}
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.fs, p, data, 0o644); err != nil {
		return fmt.Errorf("save model %s: %w", key, err)
	}
	return nil
}

// Load reads the transform stored under key. A missing file yields
// ble.ErrMissingModel; a header that disagrees with key yields
// ble.ErrConfigMismatch.
func (s *Store) Load(key Key) (*transform.Fitted, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ble.ErrMissingModel, key)
		}
		return nil, fmt.Errorf("read model %s: %w", key, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", key, err)
	}
	if err := checkHeader(key, f.Header); err != nil {
		return nil, err
	}
	return f, nil
}

// Exists reports whether a model file exists for key.
func (s *Store) Exists(key Key) bool {
	p, err := s.Path(key)
	if err != nil {
		return false
	}
	return s.fs.Exists(p)
}

// Remove deletes the model stored under key, if any.
func (s *Store) Remove(key Key) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove model %s: %w", key, err)
	}
	return nil
}

// List returns the keys stored for version and method, ordered by window.
func (s *Store) List(version, method string) ([]Key, error) {
	probe := Key{Version: version, Method: method, TimeWindow: time.Second}
	if err := probe.validate(); err != nil {
		return nil, err
	}
	pattern := filepath.Join(s.root, version, "model", method, "t=*.json")
	names, err := s.fs.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var keys []Key
	for _, name := range names {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(name), "t="), ".json")
		secs, err := strconv.ParseFloat(base, 64)
		if err != nil || secs <= 0 {
			continue
		}
		keys = append(keys, Key{Version: version, Method: method, TimeWindow: time.Duration(secs * float64(time.Second))})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].TimeWindow < keys[j].TimeWindow })
	return keys, nil
}

func checkHeader(key Key, h transform.Header) error {
	if h.Method != key.Method {
		return fmt.Errorf("%w: model %s records method %q", ble.ErrConfigMismatch, key, h.Method)
	}
	if h.TimeWindow != key.TimeWindow {
		return fmt.Errorf("%w: model %s records time window %s", ble.ErrConfigMismatch, key, h.TimeWindow)
	}
	return nil
}
