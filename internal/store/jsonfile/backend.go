// Package jsonfile persists accounts to a JSON file and reads the item
// catalog from a JSON or YAML file.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tradepost/internal/domain"
	"tradepost/internal/store"
)

type itemRecord struct {
	Name string `json:"name" yaml:"name"`
	Buy  int64  `json:"buy" yaml:"buy"`
	Sell int64  `json:"sell" yaml:"sell"`
}

type userRecord struct {
	Name    string           `json:"name"`
	Credits int64            `json:"credits"`
	Items   map[string]int64 `json:"items"`
}

type Backend struct {
	itemsPath string
	usersPath string

	mu   sync.Mutex
	last []byte
}

var _ store.Backend = (*Backend)(nil)

func New(itemsPath, usersPath string) *Backend {
	return &Backend{itemsPath: itemsPath, usersPath: usersPath}
}

func (b *Backend) Load(_ context.Context) ([]domain.Item, []domain.User, error) {
	items, err := LoadCatalog(b.itemsPath)
	if err != nil {
		return nil, nil, err
	}
	users, err := b.loadUsers()
	if err != nil {
		return nil, nil, err
	}
	encoded, err := encodeUsers(users)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	b.last = encoded
	b.mu.Unlock()
	return items, users, nil
}

func (b *Backend) loadUsers() ([]domain.User, error) {
	raw, err := os.ReadFile(b.usersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read users file %s failed", b.usersPath)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var records []userRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrapf(err, "parse users file %s failed", b.usersPath)
	}
	users := make([]domain.User, 0, len(records))
	for _, r := range records {
		items := r.Items
		if items == nil {
			items = map[string]int64{}
		}
		users = append(users, domain.User{Name: r.Name, Credits: r.Credits, Items: items})
	}
	return users, nil
}

// Save rewrites the users file atomically. It skips the write when the
// encoded snapshot equals the last one loaded or written.
func (b *Backend) Save(_ context.Context, users []domain.User) error {
	encoded, err := encodeUsers(users)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if bytes.Equal(encoded, b.last) {
		return nil
	}
	if err := writeAtomic(b.usersPath, encoded); err != nil {
		return err
	}
	b.last = encoded
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func encodeUsers(users []domain.User) ([]byte, error) {
	records := make([]userRecord, 0, len(users))
	for _, u := range users {
		items := u.Items
		if items == nil {
			items = map[string]int64{}
		}
		records = append(records, userRecord{Name: u.Name, Credits: u.Credits, Items: items})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode users failed")
	}
	return append(raw, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s failed", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file failed")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file failed")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp file failed")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file failed")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "replace %s failed", path)
	}
	return nil
}

// LoadCatalog reads the item catalog. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadCatalog(path string) ([]domain.Item, error) {
	if path == "" {
		return nil, errors.New("items catalog path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read items file %s failed", path)
	}
	var records []itemRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&records); err != nil {
			return nil, errors.Wrapf(err, "parse items file %s failed", path)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&records); err != nil {
			return nil, errors.Wrapf(err, "parse items file %s failed", path)
		}
	}
	items := make([]domain.Item, 0, len(records))
	for _, r := range records {
		items = append(items, domain.Item{Name: r.Name, BuyPrice: r.Buy, SellPrice: r.Sell})
	}
	return items, nil
}
