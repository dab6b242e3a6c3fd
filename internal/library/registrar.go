// Package library records captured snapshots in the remote reference library.
package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "papersnap/internal/file"
	"papersnap/internal/zotero"
)

// Remote is the part of the library client the registrar needs.
type Remote interface {
	CreateItems(ctx context.Context, items ...zotero.Item) (*zotero.WriteResult, error)
	DeleteItem(ctx context.Context, key string, version int) error
}

type Registrar struct {
	remote     Remote
	storageDir string
	now        func() time.Time
}

func NewRegistrar(remote Remote, storageDir string) *Registrar {
	return &Registrar{remote: remote, storageDir: storageDir, now: time.Now}
}

// Register creates a webpage item, copies the artifact into the item's
// storage folder and links it as an attachment. If the attachment step fails
// the parent item is deleted again so no orphan is left behind.
func (r *Registrar) Register(ctx context.Context, title, url, collectionKey, artifactPath string) (string, error) {
	res, err := r.remote.CreateItems(ctx, zotero.NewWebpageItem(title, url, collectionKey))
	if err != nil {
		return "", &RegistrationError{Kind: ErrItemCreationFailed, Err: err}
	}
	item, ok := res.First()
	if !ok {
		return "", &RegistrationError{Kind: ErrItemCreationFailed, Err: failureReason(res)}
	}
	logger := log.With().Str("item_key", item.Key).Logger()
	logger.Info().Str("collection", collectionKey).Msg("library item created")

	linked, err := r.storeArtifact(item.Key, artifactPath)
	if err != nil {
		r.compensate(item)
		return "", &RegistrationError{Kind: ErrAttachmentCreationFailed, ItemKey: item.Key, Err: err}
	}

	res, err = r.remote.CreateItems(ctx, zotero.NewLinkedFileAttachment(item.Key, linked, r.now()))
	if err == nil {
		if _, ok := res.First(); !ok {
			err = failureReason(res)
		}
	}
	if err != nil {
		r.compensate(item)
		return "", &RegistrationError{Kind: ErrAttachmentCreationFailed, ItemKey: item.Key, Err: err}
	}
	logger.Info().Str("path", linked).Msg("snapshot attached")
	return item.Key, nil
}

func (r *Registrar) storeArtifact(itemKey, artifactPath string) (string, error) {
	dir := filepath.Join(r.storageDir, itemKey)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(artifactPath))
	if err := fileutil.CopyFile(artifactPath, dst); err != nil {
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	return dst, nil
}

// compensate runs detached from the caller's context so a cancelled run
// still cleans up.
func (r *Registrar) compensate(item zotero.Created) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.remote.DeleteItem(ctx, item.Key, item.Version); err != nil {
		log.Warn().Str("item_key", item.Key).Err(err).Msg("failed to delete orphaned library item")
		return
	}
	log.Info().Str("item_key", item.Key).Msg("orphaned library item deleted")
}

func failureReason(res *zotero.WriteResult) error {
	if res != nil {
		if f, ok := res.Failed["0"]; ok {
			return fmt.Errorf("code %d: %s", f.Code, f.Message)
		}
	}
	return errors.New("no successful entries")
}
