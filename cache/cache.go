package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ec2inventory/configuration"
	"ec2inventory/errors"
)

const (
	packageName = "cache"

	// baseName anchors the cache file pair; the credential identity
	// and an executable hash are appended to keep concurrent setups
	// apart.
	baseName = "ansible-ec2"
)

// Cache is the on-disk inventory/index file pair for one credential
// identity. There is no locking: concurrent runs race and the last
// writer wins.
type Cache struct {
	inventoryPath string
	indexPath     string
	maxAge        time.Duration
}

// New derives the cache file locations from the settings and creates
// the cache directory on demand.
func New(settings *configuration.Settings) (*Cache, error) {
	dir, err := expandUser(settings.CachePath)
	if err != nil {
		return nil, errors.New(errors.ErrCacheRead, "failed to resolve cache path",
			map[string]interface{}{
				"cache_path": settings.CachePath,
			}, err)
	}
	if settings.Profile != "" {
		dir = filepath.Join(dir, "profile_"+settings.Profile)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCacheWrite, "failed to create cache directory",
			map[string]interface{}{
				"cache_dir": dir,
			}, err)
	}

	name := baseName
	if id := cacheIdentity(settings); id != "" {
		name = name + "-" + id
	}
	name = name + "-" + executableHash()

	return &Cache{
		inventoryPath: filepath.Join(dir, name+".cache"),
		indexPath:     filepath.Join(dir, name+".index"),
		maxAge:        time.Duration(settings.CacheMaxAge) * time.Second,
	}, nil
}

// cacheIdentity names the credentials the cached data belongs to:
// the profile, or the access key id from the environment or the
// config file.
func cacheIdentity(settings *configuration.Settings) string {
	if settings.Profile != "" {
		return settings.Profile
	}
	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
		return id
	}
	return settings.Credentials.AccessKeyID
}

// executableHash returns a stable six-digit suffix derived from the
// executable path, so differently installed copies keep separate
// caches.
func executableHash() string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(exe))
	return fmt.Sprintf("%06d", h.Sum32()%1000000)
}

// expandUser resolves a leading ~ to the home directory.
func expandUser(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// IsValid reports whether the cached pair is fresh: the inventory
// file is younger than the max age and the index file exists.
func (c *Cache) IsValid() bool {
	info, err := os.Stat(c.inventoryPath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) >= c.maxAge {
		return false
	}
	_, err = os.Stat(c.indexPath)
	return err == nil
}

// WriteInventory persists the inventory document.
func (c *Cache) WriteInventory(doc interface{}) error {
	return c.write(c.inventoryPath, doc)
}

// WriteIndex persists the hostname index.
func (c *Cache) WriteIndex(index interface{}) error {
	return c.write(c.indexPath, index)
}

func (c *Cache) write(path string, data interface{}) error {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "write"),
	)

	serialized, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCacheWrite, "failed to serialize cache data",
			map[string]interface{}{
				"cache_file": path,
			}, err)
	}
	if err := os.WriteFile(path, serialized, 0o644); err != nil {
		return errors.New(errors.ErrCacheWrite, "failed to write cache file",
			map[string]interface{}{
				"cache_file": path,
			}, err)
	}

	logger.Debug("Cache file written",
		zap.String("operation", "cache_write"),
		zap.String("cache_file", path),
	)
	return nil
}

// LoadInventory reads the cached inventory document. Any failure is a
// cache miss for the caller, never fatal.
func (c *Cache) LoadInventory() (map[string]interface{}, error) {
	data, err := os.ReadFile(c.inventoryPath)
	if err != nil {
		return nil, errors.New(errors.ErrCacheRead, "failed to read inventory cache",
			map[string]interface{}{
				"cache_file": c.inventoryPath,
			}, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(errors.ErrCacheRead, "malformed inventory cache",
			map[string]interface{}{
				"cache_file": c.inventoryPath,
			}, err)
	}
	return doc, nil
}

// LoadIndex reads the cached index into out (a pointer to the index
// map). Any failure is a cache miss for the caller.
func (c *Cache) LoadIndex(out interface{}) error {
	data, err := os.ReadFile(c.indexPath)
	if err != nil {
		return errors.New(errors.ErrCacheRead, "failed to read index cache",
			map[string]interface{}{
				"cache_file": c.indexPath,
			}, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(errors.ErrCacheRead, "malformed index cache",
			map[string]interface{}{
				"cache_file": c.indexPath,
			}, err)
	}
	return nil
}
