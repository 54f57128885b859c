package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/ingredient-matcher/internal/config"
)

const testCSV = "FoodID,FødevareNavn,FoodName,ParameterNavn,ResVal\n7,Gulerod,Carrot,Energi (kcal),93\n"

func testConfig(dir, url string) *config.Config {
	return &config.Config{
		ReferenceURL:  url,
		ReferencePath: filepath.Join(dir, "frida.csv"),
		MetadataPath:  filepath.Join(dir, "metadata.json"),
		LockFile:      filepath.Join(dir, "refresh.lock"),
	}
}

func newTestManager(cfg *config.Config) *Manager {
	m := NewManager(cfg, config.NewTestLogger(io.Discard, "error"))
	m.pollInterval = 10 * time.Millisecond
	return m
}

func writeMetadata(t *testing.T, path string, meta Metadata) {
	t.Helper()
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func referenceServer(etag string, gets *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testCSV))
	}))
}

func TestManager_EnsureDataset(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(t *testing.T, cfg *config.Config)
		disableRemote  bool
		expectDownload bool
	}{
		{
			name:           "file does not exist",
			setup:          func(t *testing.T, cfg *config.Config) {},
			expectDownload: true,
		},
		{
			name: "file exists and etag matches",
			setup: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte(testCSV), 0644))
				writeMetadata(t, cfg.MetadataPath, Metadata{URL: cfg.ReferenceURL, ETag: "v2", Size: int64(len(testCSV))})
			},
		},
		{
			name: "file exists but etag changed",
			setup: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte("old"), 0644))
				writeMetadata(t, cfg.MetadataPath, Metadata{URL: cfg.ReferenceURL, ETag: "v1", Size: 3})
			},
			expectDownload: true,
		},
		{
			name: "url changed",
			setup: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte(testCSV), 0644))
				writeMetadata(t, cfg.MetadataPath, Metadata{URL: "https://old.example/frida.csv", ETag: "v2"})
			},
			expectDownload: true,
		},
		{
			name: "file exists without metadata",
			setup: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte(testCSV), 0644))
			},
			expectDownload: true,
		},
		{
			name: "remote checks disabled",
			setup: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte("local"), 0644))
			},
			disableRemote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gets atomic.Int32
			server := referenceServer("v2", &gets)
			defer server.Close()

			cfg := testConfig(t.TempDir(), server.URL)
			cfg.DisableRemoteCheck = tt.disableRemote
			tt.setup(t, cfg)

			m := newTestManager(cfg)
			require.NoError(t, m.EnsureDataset(context.Background()))

			if !tt.expectDownload {
				assert.Zero(t, gets.Load())
				return
			}
			assert.Equal(t, int32(1), gets.Load())

			data, err := os.ReadFile(cfg.ReferencePath)
			require.NoError(t, err)
			assert.Equal(t, testCSV, string(data))

			meta, err := m.loadMetadata()
			require.NoError(t, err)
			assert.Equal(t, "v2", meta.ETag)
			assert.Equal(t, server.URL, meta.URL)
			assert.Equal(t, int64(len(testCSV)), meta.Size)
			assert.Len(t, meta.SHA256, 64)

			_, err = os.Stat(cfg.ReferencePath + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestManager_NoURL(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, "")

	err := newTestManager(cfg).EnsureDataset(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)

	require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte(testCSV), 0644))
	assert.NoError(t, newTestManager(cfg).EnsureDataset(context.Background()))
}

func TestManager_DownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig(t.TempDir(), server.URL)
	err := newTestManager(cfg).EnsureDataset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = os.Stat(cfg.ReferencePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.LockFile)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_ValidatorKeepsOldFile(t *testing.T) {
	var gets atomic.Int32
	server := referenceServer("v2", &gets)
	defer server.Close()

	cfg := testConfig(t.TempDir(), server.URL)
	require.NoError(t, os.WriteFile(cfg.ReferencePath, []byte("old"), 0644))

	m := newTestManager(cfg).WithValidator(func(ctx context.Context, path string) error {
		return errors.New("not a reference file")
	})
	err := m.EnsureDataset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a reference file")

	data, err := os.ReadFile(cfg.ReferencePath)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestManager_AcquireReleaseLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "nested", "test.lock")

	lock1, err := acquireLock(lockPath)
	require.NoError(t, err)
	assert.NotNil(t, lock1)

	lock2, err := acquireLock(lockPath)
	assert.Error(t, err)
	assert.Nil(t, lock2)

	releaseLock(lock1, lockPath)

	lock3, err := acquireLock(lockPath)
	require.NoError(t, err)
	releaseLock(lock3, lockPath)
}

func TestComputeSHA256(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("hello world"), 0644))

	sha, err := computeSHA256(testFile)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sha)
}

func TestManager_Lock(t *testing.T) {
	var gets atomic.Int32
	server := referenceServer("v2", &gets)
	defer server.Close()

	t.Run("held lock makes the caller wait", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), server.URL)
		require.NoError(t, os.WriteFile(cfg.LockFile, nil, 0644))

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err := newTestManager(cfg).downloadWithLock(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("waiter returns once the holder finishes", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), server.URL)
		require.NoError(t, os.WriteFile(cfg.LockFile, nil, 0644))

		go func() {
			time.Sleep(50 * time.Millisecond)
			os.WriteFile(cfg.ReferencePath, []byte(testCSV), 0644)
			os.Remove(cfg.LockFile)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, newTestManager(cfg).downloadWithLock(ctx))
	})

	t.Run("IGNORE_LOCK forces the download", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), server.URL)
		cfg.IgnoreLock = true
		require.NoError(t, os.WriteFile(cfg.LockFile, nil, 0644))

		require.NoError(t, newTestManager(cfg).downloadWithLock(context.Background()))

		_, err := os.Stat(cfg.ReferencePath)
		assert.NoError(t, err)
		_, err = os.Stat(cfg.LockFile)
		assert.True(t, os.IsNotExist(err))
	})
}
