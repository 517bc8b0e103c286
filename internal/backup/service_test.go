package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"sitehost/backend/internal/config"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"
)

// memoryRemote keeps uploaded artefacts in memory.
type memoryRemote struct {
	files   map[string][]byte
	created map[string]time.Time
	seq     int
	failUp  error
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{files: map[string][]byte{}, created: map[string]time.Time{}}
}

func (m *memoryRemote) Upload(ctx context.Context, localPath, name string) error {
	if m.failUp != nil {
		return m.failUp
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.seq++
	m.files[name] = data
	m.created[name] = time.Unix(int64(m.seq), 0)
	return nil
}

func (m *memoryRemote) List(ctx context.Context) ([]Descriptor, error) {
	var out []Descriptor
	for name, data := range m.files {
		out = append(out, Descriptor{Name: name, SizeBytes: int64(len(data)), CreatedAt: m.created[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryRemote) Download(ctx context.Context, name, destPath string) error {
	data, ok := m.files[name]
	if !ok {
		return fmt.Errorf("backup %s not found", name)
	}
	return os.WriteFile(destPath, data, 0o600)
}

func (m *memoryRemote) Delete(ctx context.Context, name string) error {
	delete(m.files, name)
	return nil
}

func newTestService(t *testing.T, retention int) (*Service, *store.Store, *memoryRemote, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir, store.WithBackend(store.NewMemoryBackend()))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	seed := []models.User{
		{ID: "u1", Username: "ann", Email: "ann@example.com", Subdomain: "ann-app", Sites: []models.Site{{ID: "s1", Slug: "portfolio", Published: true}}},
		{ID: "u2", Username: "ben", Email: "ben@example.com", Subdomain: "ben-app"},
	}
	if err := st.Modify(context.Background(), func(reg *store.Registry) (bool, error) {
		for _, u := range seed {
			if err := reg.AddUser(u); err != nil {
				return false, err
			}
		}
		return true, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := &config.Config{
		DataDir:         dir,
		BackupEnabled:   true,
		BackupInterval:  time.Hour,
		BackupRetention: retention,
		MegaUsername:    "ops@example.com",
		MegaPassword:    "secret",
	}
	svc, err := New(cfg, st)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	remote := newMemoryRemote()
	svc.connect = func(ctx context.Context) (Remote, func(), error) { return remote, func() {}, nil }
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	svc.logger.SetOutput(io.Discard)
	return svc, st, remote, &now
}

func TestTriggerUploadsAndRecordsStatus(t *testing.T) {
	svc, _, remote, now := newTestService(t, 5)
	res, err := svc.Trigger(context.Background())
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.BackupName != "backup-20260301T100000Z.json.gz" || res.Users != 2 || res.Sites != 1 || res.Bytes == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := remote.files[res.BackupName]; !ok {
		t.Fatalf("artefact not uploaded")
	}
	if _, err := os.Stat(svc.localDir + "/" + res.BackupName); !os.IsNotExist(err) {
		t.Fatalf("local artefact should be removed after upload")
	}
	status, err := svc.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastResult != "success" || status.LastBackupName != res.BackupName || status.Running {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.NextRunDue == nil || !status.NextRunDue.Equal(now.Add(time.Hour)) {
		t.Fatalf("next run %v", status.NextRunDue)
	}
}

func TestTriggerFailureRecorded(t *testing.T) {
	svc, _, remote, _ := newTestService(t, 5)
	remote.failUp = errors.New("quota exceeded")
	if _, err := svc.Trigger(context.Background()); err == nil {
		t.Fatalf("expected upload failure")
	}
	status, _ := svc.Status()
	if status.LastResult != "failed" || status.LastError == "" || status.Running {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ConsecutiveFailures != 1 || status.LastSuccess != nil {
		t.Fatalf("failure counters %+v", status)
	}
	entries, _ := os.ReadDir(svc.localDir)
	for _, e := range entries {
		if e.Name() != "status.json" {
			t.Fatalf("leftover local file %s", e.Name())
		}
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	svc, _, remote, now := newTestService(t, 2)
	var names []string
	for i := 0; i < 4; i++ {
		*now = now.Add(time.Minute)
		res, err := svc.Trigger(context.Background())
		if err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
		names = append(names, res.BackupName)
	}
	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != names[3] || list[1].Name != names[2] {
		t.Fatalf("unexpected retained set %+v", list)
	}
	if len(remote.files) != 2 {
		t.Fatalf("remote holds %d files", len(remote.files))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	svc, _, remote, now := newTestService(t, 50)
	remote.failUp = errors.New("offline")
	if _, err := svc.Trigger(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	remote.failUp = nil
	for i := 0; i < historyLimit+2; i++ {
		*now = now.Add(time.Minute)
		if _, err := svc.Trigger(context.Background()); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	status, err := svc.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.History) != historyLimit {
		t.Fatalf("history holds %d runs", len(status.History))
	}
	if status.ConsecutiveFailures != 0 || status.History[0].Result != "success" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LastSuccess == nil || !status.LastSuccess.Equal(*now) {
		t.Fatalf("last success %v", status.LastSuccess)
	}
}

func TestScheduledRunHonoursInterval(t *testing.T) {
	svc, _, remote, now := newTestService(t, 10)
	ctx := context.Background()
	if err := svc.tryScheduled(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	*now = now.Add(30 * time.Minute)
	if err := svc.tryScheduled(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(remote.files) != 1 {
		t.Fatalf("run inside interval should be skipped, have %d files", len(remote.files))
	}
	*now = now.Add(31 * time.Minute)
	if err := svc.tryScheduled(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(remote.files) != 2 {
		t.Fatalf("due run should upload, have %d files", len(remote.files))
	}
}

func TestRestoreReplacesUsers(t *testing.T) {
	svc, st, _, _ := newTestService(t, 5)
	ctx := context.Background()
	index := filepath.Join(svc.contentRoot, "ann-app", "portfolio", "index.html")
	if err := os.MkdirAll(filepath.Dir(index), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(index, []byte("<h1>ann</h1>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := svc.Trigger(ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	err = st.Modify(ctx, func(reg *store.Registry) (bool, error) {
		_, err := reg.RemoveSite("u1", "s1")
		return true, err
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.RemoveAll(svc.contentRoot); err != nil {
		t.Fatalf("remove content: %v", err)
	}

	restored, err := svc.Restore(ctx, res.BackupName)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Users != 2 || restored.Sites != 1 || restored.Files != 1 {
		t.Fatalf("unexpected restore result %+v", restored)
	}
	if data, err := os.ReadFile(index); err != nil || string(data) != "<h1>ann</h1>" {
		t.Fatalf("site file not restored: %q %v", data, err)
	}
	reg, _ := st.Snapshot(ctx)
	if _, ok := reg.LocateSlug("portfolio"); !ok {
		t.Fatalf("restored site should be locatable")
	}

	if _, err := svc.Restore(ctx, "../../etc/passwd"); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestRestoreFilesRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	err := restoreFiles(root, map[string]string{"ann-app/ok/index.html": "x", "../outside.html": "y"})
	if !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "ann-app")); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written when any path escapes")
	}
}

func TestCredentialsRequired(t *testing.T) {
	svc, _, _, _ := newTestService(t, 5)
	svc.cfg.MegaPassword = ""
	if _, err := svc.Trigger(context.Background()); !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
	if _, err := svc.List(context.Background()); !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
}

func TestFolderPath(t *testing.T) {
	if got := folderPath(" /ops/ sitehost //"); len(got) != 2 || got[0] != "ops" || got[1] != "sitehost" {
		t.Fatalf("folderPath = %v", got)
	}
	if got := folderPath(""); len(got) != 2 || got[0] != "sitehost" {
		t.Fatalf("default folder = %v", got)
	}
}
