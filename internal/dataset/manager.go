// Package dataset keeps a local copy of the nutrition reference file in sync
// with its published URL.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noot-app/ingredient-matcher/internal/config"
)

// ErrNoSource is returned when the file is missing and no URL is configured
var ErrNoSource = errors.New("reference file missing and REFERENCE_URL is not set")

// Metadata holds information about the downloaded reference file
type Metadata struct {
	URL          string    `json:"url"`
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
	ETag         string    `json:"etag,omitempty"`
	Size         int64     `json:"size"`
}

// Validator checks a downloaded file before it replaces the current one
type Validator func(ctx context.Context, path string) error

// Manager downloads the reference file under a lock file and records its
// metadata next to it
type Manager struct {
	url          string
	path         string
	metadataPath string
	lockPath     string
	validate     Validator
	client       *resty.Client
	waitTimeout  time.Duration
	pollInterval time.Duration
	log          *slog.Logger
	config       *config.Config
}

// NewManager creates a manager for cfg's reference file
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		url:          cfg.ReferenceURL,
		path:         cfg.ReferencePath,
		metadataPath: cfg.MetadataPath,
		lockPath:     cfg.LockFile,
		client:       resty.New().SetTimeout(30 * time.Minute),
		waitTimeout:  10 * time.Minute,
		pollInterval: 2 * time.Second,
		log:          logger,
		config:       cfg,
	}
}

// WithValidator sets a check that a fresh download must pass
func (m *Manager) WithValidator(v Validator) *Manager {
	m.validate = v
	return m
}

// Path is the local reference file
func (m *Manager) Path() string {
	return m.path
}

// EnsureDataset makes sure the reference file exists locally and, unless
// remote checks are disabled, matches the remote copy
func (m *Manager) EnsureDataset(ctx context.Context) error {
	start := time.Now()
	m.log.Info("Ensuring reference file is available", "path", m.path)

	if _, err := os.Stat(m.path); err == nil {
		if m.config.DisableRemoteCheck || m.url == "" {
			m.log.Info("Using local reference file", "remote_check", false, "duration", time.Since(start))
			return nil
		}

		upToDate, err := m.isUpToDate(ctx)
		if err != nil {
			m.log.Warn("Failed to verify reference freshness", "error", err)
		}
		if upToDate {
			m.log.Info("Reference file is up-to-date", "duration", time.Since(start))
			return nil
		}
	} else if m.url == "" {
		return ErrNoSource
	}

	if err := m.downloadWithLock(ctx); err != nil {
		return fmt.Errorf("failed to download reference file: %w", err)
	}

	m.log.Info("Reference file ensured", "duration", time.Since(start))
	return nil
}

// isUpToDate compares local metadata with a HEAD of the remote file
func (m *Manager) isUpToDate(ctx context.Context) (bool, error) {
	start := time.Now()
	m.log.Debug("Checking if reference file is up-to-date")

	localMeta, err := m.loadMetadata()
	if err != nil {
		m.log.Debug("No local metadata found", "error", err)
		return false, nil
	}
	if localMeta.URL != "" && localMeta.URL != m.url {
		m.log.Info("Reference URL changed", "previous", localMeta.URL, "current", m.url)
		return false, nil
	}

	remoteMeta, err := m.getRemoteMetadata(ctx)
	if err != nil {
		return false, err
	}

	if remoteMeta.ETag != "" && localMeta.ETag != "" {
		upToDate := remoteMeta.ETag == localMeta.ETag
		m.log.Debug("ETag comparison", "local", localMeta.ETag, "remote", remoteMeta.ETag, "up_to_date", upToDate, "duration", time.Since(start))
		return upToDate, nil
	}

	upToDate := remoteMeta.Size == localMeta.Size
	m.log.Debug("Size comparison", "local", localMeta.Size, "remote", remoteMeta.Size, "up_to_date", upToDate, "duration", time.Since(start))
	return upToDate, nil
}

// getRemoteMetadata reads ETag and size from a HEAD request
func (m *Manager) getRemoteMetadata(ctx context.Context) (*Metadata, error) {
	start := time.Now()
	m.log.Debug("Fetching remote metadata", "url", m.url)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := m.client.R().SetContext(ctx).Head(m.url)
	if err != nil {
		return nil, fmt.Errorf("HEAD request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("HEAD request failed with status: %d", resp.StatusCode())
	}

	meta := &Metadata{
		URL:  m.url,
		ETag: resp.Header().Get("ETag"),
		Size: resp.RawResponse.ContentLength,
	}
	m.log.Debug("Remote metadata fetched", "etag", meta.ETag, "size", meta.Size, "duration", time.Since(start))
	return meta, nil
}

// downloadWithLock downloads the file while holding the lock file. Without
// the lock it waits for the holder to finish, unless IGNORE_LOCK is set.
func (m *Manager) downloadWithLock(ctx context.Context) error {
	start := time.Now()
	m.log.Info("Attempting to acquire download lock", "lock_path", m.lockPath)

	if m.config.IgnoreLock {
		if _, err := os.Stat(m.lockPath); err == nil {
			m.log.Warn("IGNORE_LOCK enabled, removing existing lock file", "lock_path", m.lockPath)
			if err := os.Remove(m.lockPath); err != nil {
				m.log.Warn("Failed to remove lock file", "error", err)
			}
		}
	}

	lockFile, err := acquireLock(m.lockPath)
	if err != nil {
		if !m.config.IgnoreLock {
			m.log.Info("Another instance is downloading, waiting", "lock_path", m.lockPath)
			return m.waitForDownload(ctx)
		}
		m.log.Warn("IGNORE_LOCK enabled but lock is still held, proceeding anyway", "error", err)
	}
	if lockFile != nil {
		defer releaseLock(lockFile, m.lockPath)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// same directory as the target so the final rename stays on one filesystem
	tmpPath := m.path + ".tmp"
	etag, err := m.downloadFile(ctx, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if m.validate != nil {
		if err := m.validate(ctx, tmpPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("downloaded reference file is not readable: %w", err)
		}
	}

	sha, err := computeSHA256(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to compute SHA256: %w", err)
	}
	stat, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace reference file: %w", err)
	}

	meta := &Metadata{
		URL:          m.url,
		SHA256:       sha,
		DownloadedAt: time.Now().UTC(),
		ETag:         etag,
		Size:         stat.Size(),
	}
	if err := m.saveMetadata(meta); err != nil {
		m.log.Warn("Failed to save metadata", "error", err)
	}

	m.log.Info("Reference file downloaded", "size", stat.Size(), "sha256", sha[:16]+"...", "duration", time.Since(start))
	return nil
}

// downloadFile streams the remote file to path and returns its ETag
func (m *Manager) downloadFile(ctx context.Context, path string) (string, error) {
	start := time.Now()
	m.log.Info("Downloading reference file", "url", m.url, "path", path)

	resp, err := m.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(m.url)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode())
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return "", err
	}

	m.log.Info("Download completed", "bytes", written, "duration", time.Since(start))
	return resp.Header().Get("ETag"), nil
}

// waitForDownload waits for another instance to finish downloading
func (m *Manager) waitForDownload(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	timeout := time.After(m.waitTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for download by other instance")
		case <-ticker.C:
			_, lockErr := os.Stat(m.lockPath)
			if _, err := os.Stat(m.path); err == nil && errors.Is(lockErr, os.ErrNotExist) {
				m.log.Info("Reference file available after other instance completed")
				return nil
			}
		}
	}
}

func (m *Manager) loadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.metadataPath)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Manager) saveMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.metadataPath, data, 0644)
}

// acquireLock creates the lock file exclusively
func acquireLock(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	// O_EXCL fails if the file exists
	return os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

func releaseLock(f *os.File, lockPath string) {
	f.Close()
	os.Remove(lockPath)
}

func computeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
