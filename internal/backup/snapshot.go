package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sitehost/backend/internal/models"
)

// maxBundledFile skips anything larger than an upload could have produced.
const maxBundledFile = 16 << 20

// bundle is the on-disk backup format: every user with sites embedded, plus the published
// files keyed by their slash path under the content root.
type bundle struct {
	SchemaVersion string            `json:"schema_version"`
	CreatedAt     time.Time         `json:"created_at"`
	SlugPolicy    string            `json:"slug_policy"`
	Users         []models.User     `json:"users"`
	Files         map[string]string `json:"files,omitempty"`
	VersionInfo   map[string]string `json:"version,omitempty"`
}

func (b bundle) siteCount() int {
	n := 0
	for _, u := range b.Users {
		n += len(u.Sites)
	}
	return n
}

func (s *Service) buildBundle(ctx context.Context) (bundle, error) {
	reg, err := s.store.Snapshot(ctx)
	if err != nil {
		return bundle{}, fmt.Errorf("collect registry: %w", err)
	}
	files, err := collectFiles(s.contentRoot)
	if err != nil {
		return bundle{}, fmt.Errorf("collect site files: %w", err)
	}
	return bundle{
		SchemaVersion: schemaVersion,
		CreatedAt:     s.clock().UTC(),
		SlugPolicy:    string(reg.Policy()),
		Users:         reg.Users,
		Files:         files,
		VersionInfo:   map[string]string{"generator": "sitehost"},
	}, nil
}

func collectFiles(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || strings.Contains(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxBundledFile {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return files, err
}

// restoreFiles writes bundled files back under root. Paths that would leave root are refused
// before anything is written.
func restoreFiles(root string, files map[string]string) error {
	for rel := range files {
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return fmt.Errorf("file %q: %w", rel, models.ErrInvalidFormat)
		}
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) writeBundle(b bundle) (string, int64, error) {
	filename := fmt.Sprintf("backup-%s.json.gz", b.CreatedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.localDir, filename)
	temp := path + ".tmp"
	file, err := os.Create(temp)
	if err != nil {
		return "", 0, err
	}
	gz := gzip.NewWriter(file)
	gz.Name = strings.TrimSuffix(filename, ".gz")
	gz.ModTime = b.CreatedAt.UTC()
	encErr := json.NewEncoder(gz).Encode(b)
	if err := gz.Close(); encErr == nil {
		encErr = err
	}
	if err := file.Close(); encErr == nil {
		encErr = err
	}
	if encErr != nil {
		_ = os.Remove(temp)
		return "", 0, encErr
	}
	if err := os.Rename(temp, path); err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, info.Size(), nil
}

func readBundle(path string) (bundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return bundle{}, err
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return bundle{}, err
	}
	defer gz.Close()
	var b bundle
	if err := json.NewDecoder(gz).Decode(&b); err != nil {
		return bundle{}, err
	}
	if b.SchemaVersion != schemaVersion {
		return bundle{}, fmt.Errorf("unsupported schema version %q", b.SchemaVersion)
	}
	return b, nil
}
