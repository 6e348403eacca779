// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sampler/pkg/log"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Assets are stored in the following format
//
// <Year>
// └── <Month>
//     └── <Day>
//         ├── <ID>.mov
//         └── <ID>.mov
//
// The index holds two buckets, assets keyed by id
// and a time bucket keyed by creation time and id.

var (
	assetBucket = []byte("assets")
	timeBucket  = []byte("time")
)

// ErrAssetNotFound asset not found.
var ErrAssetNotFound = errors.New("asset not found")

// Asset a recording owned by the library.
type Asset struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"` // Relative to the library directory.
	SessionID string    `json:"sessionId"`
	Created   time.Time `json:"created"`
	Size      int64     `json:"size"`
}

// AssetInfo metadata of a file saved to the library.
type AssetInfo struct {
	SessionID string

	// Defaults to the current time.
	Created time.Time
}

// Save moves the file into the library and indexes it.
// The source file no longer exists after a successful save.
func (m *Manager) Save(src string, info AssetInfo) (Asset, error) {
	created := info.Created
	if created.IsZero() {
		created = time.Now()
	}

	asset := Asset{
		ID:        uuid.NewString(),
		SessionID: info.SessionID,
		Created:   created.UTC(),
	}
	asset.Path = filepath.Join(
		created.Format("2006/01/02"),
		asset.ID+filepath.Ext(src),
	)
	dst := m.AssetPath(asset)

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return Asset{}, fmt.Errorf("create directory: %w", err)
	}
	if err := m.moveFile(src, dst); err != nil {
		return Asset{}, fmt.Errorf("move file: %w", err)
	}

	stat, err := os.Stat(dst)
	if err != nil {
		return Asset{}, fmt.Errorf("stat: %w", err)
	}
	asset.Size = stat.Size()

	if err := m.index(asset); err != nil {
		// Give the file back to the caller.
		if err2 := m.moveFile(dst, src); err2 != nil {
			return Asset{}, fmt.Errorf("index: %w, move back: %v", err, err2)
		}
		return Asset{}, fmt.Errorf("index: %w", err)
	}

	m.logger.Log(log.Entry{
		Level:     log.LevelInfo,
		Src:       "storage",
		SessionID: info.SessionID,
		Msg:       fmt.Sprintf("saved asset %v", asset.Path),
	})
	return asset, nil
}

// moveFile renames the file and falls back
// to copy and remove across file systems.
func (m *Manager) moveFile(src, dst string) error {
	err := m.rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// AssetPath returns the absolute path of the asset.
func (m *Manager) AssetPath(a Asset) string {
	return filepath.Join(m.libraryDir, a.Path)
}

func timeKey(a Asset) []byte {
	key := make([]byte, 8, 8+len(a.ID))
	binary.BigEndian.PutUint64(key, uint64(a.Created.UnixNano()))
	return append(key, a.ID...)
}

func (m *Manager) index(a Asset) error {
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(assetBucket).Put([]byte(a.ID), value); err != nil {
			return err
		}
		return tx.Bucket(timeBucket).Put(timeKey(a), []byte(a.ID))
	})
}

// Asset returns the asset with the given id.
func (m *Manager) Asset(id string) (Asset, error) {
	var asset Asset
	err := m.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(assetBucket).Get([]byte(id))
		if value == nil {
			return fmt.Errorf("%w: %v", ErrAssetNotFound, id)
		}
		return json.Unmarshal(value, &asset)
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// Assets returns up to limit assets, newest first. Zero means no limit.
func (m *Manager) Assets(limit int) ([]Asset, error) {
	var assets []Asset
	err := m.db.View(func(tx *bolt.Tx) error {
		assetsB := tx.Bucket(assetBucket)
		c := tx.Bucket(timeBucket).Cursor()
		for key, id := c.Last(); key != nil; key, id = c.Prev() {
			if limit != 0 && len(assets) >= limit {
				return nil
			}
			var asset Asset
			if err := json.Unmarshal(assetsB.Get(id), &asset); err != nil {
				return fmt.Errorf("unmarshal asset %s: %w", id, err)
			}
			assets = append(assets, asset)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// Delete removes the asset file and its index entry.
func (m *Manager) Delete(id string) error {
	asset, err := m.Asset(id)
	if err != nil {
		return err
	}
	if err := os.Remove(m.AssetPath(asset)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return unindex(tx, asset)
	})
	if err != nil {
		return fmt.Errorf("unindex: %w", err)
	}
	m.disk.invalidate()
	return nil
}

func unindex(tx *bolt.Tx, a Asset) error {
	if err := tx.Bucket(assetBucket).Delete([]byte(a.ID)); err != nil {
		return err
	}
	return tx.Bucket(timeBucket).Delete(timeKey(a))
}

// unindexDir removes the index entries of all assets in dir.
func (m *Manager) unindexDir(dir string) error {
	prefix := filepath.FromSlash(dir) + string(filepath.Separator)
	return m.db.Update(func(tx *bolt.Tx) error {
		var remove []Asset
		err := tx.Bucket(assetBucket).ForEach(func(_, value []byte) error {
			var asset Asset
			if err := json.Unmarshal(value, &asset); err != nil {
				return err
			}
			if strings.HasPrefix(asset.Path, prefix) {
				remove = append(remove, asset)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, asset := range remove {
			if err := unindex(tx, asset); err != nil {
				return err
			}
		}
		return nil
	})
}
