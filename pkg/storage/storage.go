// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"sampler/pkg/log"

	psdisk "github.com/shirou/gopsutil/v3/disk"
	bolt "go.etcd.io/bbolt"
)

// Manager media library manager. Takes ownership of finished recordings.
type Manager struct {
	storageDir string
	libraryDir string
	libraryFS  fs.FS
	disk       *disk

	removeAll func(string) error
	rename    func(string, string) error

	db     *bolt.DB
	logger log.ILogger
}

// NewManager returns new manager, Open must be called before use.
// diskSpace is the maximum library size in bytes.
func NewManager(storageDir string, diskSpace int64, logger log.ILogger) *Manager {
	libraryDir := filepath.Join(storageDir, "library")
	libraryFS := os.DirFS(libraryDir)
	return &Manager{
		storageDir: storageDir,
		libraryDir: libraryDir,
		libraryFS:  libraryFS,
		disk:       newDisk(diskSpace, libraryFS),

		removeAll: os.RemoveAll,
		rename:    os.Rename,

		logger: logger,
	}
}

// LibraryDir returns path to the library directory.
func (m *Manager) LibraryDir() string {
	return m.libraryDir
}

// Open opens the library index. The index is closed when ctx is canceled.
func (m *Manager) Open(ctx context.Context, wg *sync.WaitGroup) error {
	if err := os.MkdirAll(m.libraryDir, 0o700); err != nil {
		return fmt.Errorf("create library directory: %w", err)
	}

	dbPath := filepath.Join(m.storageDir, "library.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("open index: %w: %v", err, dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(assetBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(timeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create buckets: %w", err)
	}
	m.db = db

	wg.Add(1)
	go func() {
		<-ctx.Done()
		db.Close()
		wg.Done()
	}()
	return nil
}

// DiskUsage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (m *Manager) DiskUsage(maxAge time.Duration) DiskUsage {
	return m.disk.usage(maxAge)
}

// purge checks if disk usage is above 99%,
// if true deletes all files from the oldest day.
func (m *Manager) purge() error {
	usage := m.DiskUsage(10 * time.Minute)
	if usage.Percent < 99 {
		return nil
	}

	day, err := m.oldestDay()
	if err != nil {
		return err
	}
	if day == "" {
		return nil
	}

	// Delete all files from that day.
	if err := m.removeAll(filepath.Join(m.libraryDir, day)); err != nil {
		return fmt.Errorf("remove directory: %w", err)
	}
	if err := m.unindexDir(day); err != nil {
		return fmt.Errorf("unindex %v: %w", day, err)
	}
	m.disk.invalidate()

	m.logger.Log(log.Entry{
		Level: log.LevelInfo,
		Src:   "storage",
		Msg:   fmt.Sprintf("purged %v", day),
	})
	return nil
}

// oldestDay returns the oldest <year>/<month>/<day> directory.
// Empty directories found on the way are removed.
func (m *Manager) oldestDay() (string, error) {
	const dayDepth = 3

	dir := "."
	for depth := 1; depth <= dayDepth; depth++ {
		list, err := fs.ReadDir(m.libraryFS, dir)
		if err != nil {
			return "", fmt.Errorf("read directory %v: %w", dir, err)
		}

		var first string
		for _, entry := range list {
			if entry.IsDir() {
				first = entry.Name()
				break
			}
		}

		if first == "" {
			if depth == 1 {
				return "", nil
			}
			if err := m.removeAll(filepath.Join(m.libraryDir, dir)); err != nil {
				return "", fmt.Errorf("remove empty directory: %w", err)
			}

			dir = "."
			depth = 0
			continue
		}
		dir = path.Join(dir, first)
	}
	return dir, nil
}

// PurgeLoop runs Purge on an interval until context is canceled.
func (m *Manager) PurgeLoop(ctx context.Context, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			if err := m.purge(); err != nil {
				m.logger.Log(log.Entry{
					Level: log.LevelError,
					Src:   "storage",
					Msg:   fmt.Sprintf("could not purge storage: %v", err),
				})
			}
		}
	}
}

// FreeSpace returns the free space in bytes of the file system containing dir.
func FreeSpace(dir string) (uint64, error) {
	stat, err := psdisk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return stat.Free, nil
}

// Only used to calculate and cache disk usage.
type disk struct {
	diskSpace      int64
	libraryFS      fs.FS
	diskUsageBytes func(fs.FS) int64

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

func newDisk(diskSpace int64, libraryFS fs.FS) *disk {
	return &disk{
		diskSpace:      diskSpace,
		diskUsageBytes: diskUsageBytes,
		libraryFS:      libraryFS,
	}
}

func (d *disk) invalidate() {
	d.cacheLock.Lock()
	d.lastUpdate = time.Time{}
	d.cacheLock.Unlock()
}

// usage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (d *disk) usage(maxAge time.Duration) DiskUsage {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache
	}
	// Still outdated.
	d.cacheLock.Unlock()

	updatedUsage := d.calculateDiskUsage()

	d.cacheLock.Lock()
	d.cache = updatedUsage
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updatedUsage
}

func (d *disk) calculateDiskUsage() DiskUsage {
	used := d.diskUsageBytes(d.libraryFS)

	percent := func() int {
		if used == 0 || d.diskSpace == 0 {
			return 0
		}
		return int((used * 100) / d.diskSpace)
	}()

	return DiskUsage{
		Used:      used,
		Percent:   percent,
		Max:       d.diskSpace / int64(gigabyte),
		Formatted: formatDiskUsage(float64(used)),
	}
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64
	Percent   int
	Max       int64
	Formatted string
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func diskUsageBytes(fileSystem fs.FS) int64 {
	var used int64
	fs.WalkDir(fileSystem, ".", func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()

		return nil
	})
	return used
}
