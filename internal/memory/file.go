package memory

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	userFilePrefix   = "user_"
	hashedFilePrefix = "userh_"
	userFileSuffix   = ".json"

	// Encoded ids longer than this are stored under a hash of the id so the
	// name stays below the common 255-byte file name limit.
	maxEncodedIDLen = 160
)

// FileBackend stores one JSON document per user under a directory.
// Writes go to a temp file in the same directory and are renamed into place.
type FileBackend struct {
	dir   string
	locks *userLocks
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(dir string) (*FileBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("memory: file backend directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir, locks: newUserLocks()}, nil
}

// Dir returns the directory records are written to.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) Save(_ context.Context, m UserMemory) error {
	data, err := encodeRecord(m)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}

	unlock := b.locks.lock(m.UserID)
	defer unlock()

	tmp, err := os.CreateTemp(b.dir, ".user-*.tmp")
	if err != nil {
		return fmt.Errorf("memory: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("memory: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("memory: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, b.path(m.UserID)); err != nil {
		return fmt.Errorf("memory: replace record for %q: %w", m.UserID, err)
	}
	committed = true
	return nil
}

func (b *FileBackend) Load(_ context.Context, userID string) (UserMemory, error) {
	unlock := b.locks.lock(userID)
	defer unlock()

	data, err := os.ReadFile(b.path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return UserMemory{}, ErrNotFound
		}
		return UserMemory{}, fmt.Errorf("memory: read record for %q: %w", userID, err)
	}
	m, err := decodeRecord(data)
	if err != nil {
		return UserMemory{}, fmt.Errorf("memory: %q: %w", userID, err)
	}
	return m, nil
}

func (b *FileBackend) Delete(_ context.Context, userID string) error {
	unlock := b.locks.lock(userID)
	defer unlock()

	if err := os.Remove(b.path(userID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("memory: delete record for %q: %w", userID, err)
	}
	return nil
}

func (b *FileBackend) ListUsers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", b.dir, err)
	}

	users := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isHashedFileName(name) {
			userID, err := b.storedUserID(name)
			if err != nil {
				continue
			}
			users = append(users, userID)
			continue
		}
		userID, ok := userIDFromFileName(name)
		if !ok {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) path(userID string) string {
	return filepath.Join(b.dir, userFileName(userID))
}

// storedUserID reads the user_id field of a hashed record file.
func (b *FileBackend) storedUserID(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return "", err
	}
	var head struct {
		UserID string `json:"user_id"`
	}
	if err := recordAPI.Unmarshal(data, &head); err != nil {
		return "", err
	}
	if head.UserID == "" || userFileName(head.UserID) != name {
		return "", fmt.Errorf("memory: %s does not hold its own user", name)
	}
	return head.UserID, nil
}

// userFileName encodes the id so any user id maps to a distinct, safe file
// name. Long ids are named by their SHA-256 instead.
func userFileName(userID string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(userID))
	if len(encoded) > maxEncodedIDLen {
		sum := sha256.Sum256([]byte(userID))
		return hashedFilePrefix + hex.EncodeToString(sum[:]) + userFileSuffix
	}
	return userFilePrefix + encoded + userFileSuffix
}

func isHashedFileName(name string) bool {
	return strings.HasPrefix(name, hashedFilePrefix) && strings.HasSuffix(name, userFileSuffix)
}

func userIDFromFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, userFilePrefix) || !strings.HasSuffix(name, userFileSuffix) {
		return "", false
	}
	encoded := strings.TrimSuffix(strings.TrimPrefix(name, userFilePrefix), userFileSuffix)
	if encoded == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
