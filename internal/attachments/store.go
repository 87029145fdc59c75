// Package attachments stores campaign attachment blobs. Metadata lives on
// the campaign; the Store holds only the bytes, addressed by storage key.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// ErrNotFound is returned when no blob exists for a key.
var ErrNotFound = errors.New("attachment not found")

// Store persists attachment blobs.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key returns the storage key for an attachment of a campaign.
func Key(campaignID, attachmentID string) string {
	return "campaigns/" + campaignID + "/" + attachmentID
}

// LoadAll reads every attachment of a campaign into memory, in order.
func LoadAll(ctx context.Context, store Store, atts []domain.Attachment) ([]domain.AttachmentFile, error) {
	files := make([]domain.AttachmentFile, 0, len(atts))
	for _, a := range atts {
		data, err := store.Get(ctx, a.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("load attachment %s: %w", a.Filename, err)
		}
		files = append(files, domain.AttachmentFile{Filename: a.Filename, ContentType: a.ContentType, Content: data})
	}
	return files, nil
}

// LocalStore keeps blobs under a directory on disk.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}
	return filepath.Join(s.root, filepath.Clean("/"+key)), nil
}

func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
