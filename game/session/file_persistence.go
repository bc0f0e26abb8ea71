package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/wricardo/worldsync/game/engine"
)

const recordVersion = 1

// FileStore implements IdentityStore as one JSON record on disk
type FileStore struct {
	path string
	log  *zap.Logger
}

type recordBody struct {
	UUIDs   map[string]string             `json:"uuids"`
	Players map[string]engine.PlayerState `json:"players,omitempty"`
}

// persistedRecord is the on-disk layout. Checksum covers the JSON encoding
// of recordBody; an empty checksum is accepted for hand-written records.
type persistedRecord struct {
	Version  int       `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Checksum string    `json:"checksum"`
	recordBody
}

// NewFileStore creates a file-backed store, creating the parent directory
func NewFileStore(path string, log *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, log: log.Named("filestore")}, nil
}

// Path returns the record location
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the record. Missing, undecodable or checksum-mismatched
// records yield an empty set.
func (fs *FileStore) Load() Identities {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fs.log.Info("no identity record yet, starting empty", zap.String("path", fs.path))
		} else {
			fs.log.Error("failed to read identity record", zap.String("path", fs.path), zap.Error(err))
		}
		return Identities{}
	}

	var rec persistedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		fs.log.Error("corrupt identity record, starting empty", zap.String("path", fs.path), zap.Error(err))
		return Identities{}
	}

	if rec.Checksum != "" {
		sum, err := checksum(rec.recordBody)
		if err != nil || sum != rec.Checksum {
			fs.log.Error("identity record checksum mismatch, starting empty",
				zap.String("path", fs.path), zap.String("want", rec.Checksum), zap.String("got", sum))
			return Identities{}
		}
	}

	ids := make(Identities, len(rec.UUIDs))
	for id, username := range rec.UUIDs {
		ident := Identity{Username: username}
		if st, ok := rec.Players[id]; ok {
			st.UUID = id
			st.Username = username
			ident.State = &st
		}
		ids[id] = ident
	}

	fs.log.Info("loaded identity record", zap.String("path", fs.path), zap.Int("identities", len(ids)))
	return ids
}

// Save writes the record to a temp file and renames it over the old one
func (fs *FileStore) Save(ids Identities) error {
	body := recordBody{UUIDs: make(map[string]string, len(ids))}
	for id, ident := range ids {
		body.UUIDs[id] = ident.Username
		if ident.State != nil {
			if body.Players == nil {
				body.Players = make(map[string]engine.PlayerState)
			}
			body.Players[id] = *ident.State
		}
	}

	sum, err := checksum(body)
	if err != nil {
		return fmt.Errorf("failed to checksum identity record: %w", err)
	}

	rec := persistedRecord{
		Version:    recordVersion,
		SavedAt:    time.Now().UTC(),
		Checksum:   sum,
		recordBody: body,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write identity record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync identity record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close identity record: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		return fmt.Errorf("failed to replace identity record: %w", err)
	}
	return nil
}

// Close is a no-op for the file store
func (fs *FileStore) Close() error {
	return nil
}

func checksum(body recordBody) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
