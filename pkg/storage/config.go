// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sampler/pkg/log"

	"gopkg.in/yaml.v2"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	StorageDir string `yaml:"storageDir"`
	TempDir    string `yaml:"tempDir"`
	LogLevel   string `yaml:"logLevel"`

	// Samples per track that may be in flight before new ones are dropped.
	QueueDepth int `yaml:"queueDepth"`

	// Minimum free space in megabytes required to start a recording.
	MinFreeSpace int `yaml:"minFreeSpace"`

	// Maximum library size in gigabytes, zero disables purging.
	DiskSpace float64 `yaml:"diskSpace"`

	// Stop recordings automatically after this many seconds, zero disables.
	RecordDuration int `yaml:"recordDuration"`

	Source ConfigSource `yaml:"source"`

	ConfigDir string `yaml:"-"`
}

// ConfigSource synthetic capture source configuration.
type ConfigSource struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	FrameRate  int     `yaml:"frameRate"`
	SampleRate int     `yaml:"sampleRate"`
	Rotation   float64 `yaml:"rotation"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidValue    = errors.New("invalid value")
)

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(filepath.Dir(env.ConfigDir), "storage")
	}
	if env.TempDir == "" {
		env.TempDir = filepath.Join(os.TempDir(), "sampler")
	}
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}
	if env.QueueDepth == 0 {
		env.QueueDepth = 1
	}

	src := &env.Source
	if src.Width == 0 {
		src.Width = 640
	}
	if src.Height == 0 {
		src.Height = 480
	}
	if src.FrameRate == 0 {
		src.FrameRate = 30
	}
	if src.SampleRate == 0 {
		src.SampleRate = 44100
	}

	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.TempDir) {
		return nil, fmt.Errorf("tempDir '%v': %w", env.TempDir, ErrPathNotAbsolute)
	}
	if _, err := log.ParseLevel(env.LogLevel); err != nil {
		return nil, fmt.Errorf("logLevel: %w", err)
	}
	if env.QueueDepth < 0 {
		return nil, fmt.Errorf("queueDepth %v: %w", env.QueueDepth, ErrInvalidValue)
	}
	if env.MinFreeSpace < 0 {
		return nil, fmt.Errorf("minFreeSpace %v: %w", env.MinFreeSpace, ErrInvalidValue)
	}
	if env.DiskSpace < 0 {
		return nil, fmt.Errorf("diskSpace %v: %w", env.DiskSpace, ErrInvalidValue)
	}
	if env.RecordDuration < 0 {
		return nil, fmt.Errorf("recordDuration %v: %w", env.RecordDuration, ErrInvalidValue)
	}
	if src.Width < 0 || src.Height < 0 || src.FrameRate < 0 || src.SampleRate < 0 {
		return nil, fmt.Errorf("source %+v: %w", *src, ErrInvalidValue)
	}

	return &env, nil
}

// LibraryDir returns the media library directory.
func (env ConfigEnv) LibraryDir() string {
	return filepath.Join(env.StorageDir, "library")
}

// LogDBPath returns the log database path.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// DiskSpaceBytes returns the configured disk space in bytes.
func (env ConfigEnv) DiskSpaceBytes() int64 {
	return int64(env.DiskSpace * gigabyte)
}

// MinFreeSpaceBytes returns the required free space in bytes.
func (env ConfigEnv) MinFreeSpaceBytes() uint64 {
	return uint64(env.MinFreeSpace) * uint64(megabyte)
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.LibraryDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create library directory: %v: %w", env.StorageDir, err)
	}

	// Make sure env.TempDir isn't set to "/".
	if len(env.TempDir) <= 4 {
		return fmt.Errorf("tempDir sanity check: %v: %w", env.TempDir, ErrInvalidValue)
	}
	err = os.RemoveAll(env.TempDir)
	if err != nil {
		return fmt.Errorf("clear tempDir: %v: %w", env.TempDir, err)
	}

	err = os.MkdirAll(env.TempDir, 0o700)
	if err != nil {
		return fmt.Errorf("create tempDir: %v: %w", env.TempDir, err)
	}

	return nil
}
