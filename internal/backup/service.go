package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sitehost/backend/internal/config"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/store"
)

const (
	defaultInterval  = 24 * time.Hour
	defaultRetention = 14
	schemaVersion    = "1"
)

var (
	ErrBackupsDisabled    = errors.New("backups disabled")
	ErrCredentialsMissing = errors.New("mega credentials not configured")
	ErrBackupInProgress   = errors.New("backup already running")
)

// RunResult captures artefacts from a backup run.
type RunResult struct {
	BackupName  string    `json:"backup_name"`
	Bytes       int64     `json:"bytes"`
	Users       int       `json:"users"`
	Sites       int       `json:"sites"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// RestoreResult summarises what a restore replaced.
type RestoreResult struct {
	BackupName string    `json:"backup_name"`
	Users      int       `json:"users"`
	Sites      int       `json:"sites"`
	Files      int       `json:"files"`
	RestoredAt time.Time `json:"restored_at"`
}

// Descriptor advertises a remote backup artefact.
type Descriptor struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Status exposes scheduling metadata.
type Status struct {
	Enabled         bool       `json:"enabled"`
	HasCredentials  bool       `json:"has_credentials"`
	Running         bool       `json:"running"`
	Frequency       string     `json:"frequency"`
	Retention       int        `json:"retention"`
	LastRunStarted  *time.Time `json:"last_run_started_at,omitempty"`
	LastRunFinished *time.Time `json:"last_run_completed_at,omitempty"`
	LastResult      string     `json:"last_result,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastBackupName  string     `json:"last_backup_name,omitempty"`
	NextRunDue      *time.Time `json:"next_run_at,omitempty"`

	LastSuccess         *time.Time  `json:"last_success_at,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	History             []RunRecord `json:"history,omitempty"`
}

// Remote is the off-site storage backups are uploaded to. List returns newest first.
type Remote interface {
	Upload(ctx context.Context, localPath, name string) error
	List(ctx context.Context) ([]Descriptor, error)
	Download(ctx context.Context, name, destPath string) error
	Delete(ctx context.Context, name string) error
}

type remoteFunc func(ctx context.Context) (Remote, func(), error)

// Service snapshots the registry to gzip bundles and ships them to MEGA.
type Service struct {
	cfg   *config.Config
	store *store.Store

	localDir    string
	statusPath  string
	contentRoot string
	interval   time.Duration
	retention  int

	mu      sync.Mutex
	running bool

	connect remoteFunc
	clock   func() time.Time
	logger  *log.Logger
}

// New constructs a backup service rooted at DATA_DIR/backups.
func New(cfg *config.Config, st *store.Store) (*Service, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("backup: config and store required")
	}
	localDir := filepath.Join(cfg.DataDir, "backups")
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create local dir: %w", err)
	}
	svc := &Service{
		cfg:        cfg,
		store:      st,
		localDir:    localDir,
		statusPath:  filepath.Join(localDir, "status.json"),
		contentRoot: filepath.Join(cfg.DataDir, "users"),
		interval:    cfg.BackupInterval,
		retention:   cfg.BackupRetention,
		clock:       time.Now,
		logger:      log.New(os.Stdout, "backup ", log.LstdFlags),
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.retention <= 0 {
		svc.retention = defaultRetention
	}
	svc.connect = func(ctx context.Context) (Remote, func(), error) {
		return dialMega(ctx, cfg.MegaUsername, cfg.MegaPassword, folderPath(cfg.MegaFolder))
	}
	return svc, nil
}

func (s *Service) hasCredentials() bool {
	return strings.TrimSpace(s.cfg.MegaUsername) != "" && strings.TrimSpace(s.cfg.MegaPassword) != ""
}

// Start runs the scheduler until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.BackupEnabled {
		s.logger.Printf("mega-backups: disabled via configuration")
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		if err := s.tryScheduled(ctx); err != nil {
			s.logger.Printf("mega-backups: scheduled run skipped: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Trigger runs a backup immediately. Manual runs work even when the schedule is off.
func (s *Service) Trigger(ctx context.Context) (RunResult, error) {
	if !s.hasCredentials() {
		return RunResult{}, ErrCredentialsMissing
	}
	doc, err := s.markRunning()
	if err != nil {
		return RunResult{}, err
	}
	return s.execute(ctx, doc)
}

// List enumerates backups in remote storage.
func (s *Service) List(ctx context.Context) ([]Descriptor, error) {
	if !s.hasCredentials() {
		return nil, ErrCredentialsMissing
	}
	remote, cleanup, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return remote.List(ctx)
}

// Restore downloads the named backup, replaces the registry's users with it and writes the
// bundled site files back.
func (s *Service) Restore(ctx context.Context, name string) (RestoreResult, error) {
	if !s.hasCredentials() {
		return RestoreResult{}, ErrCredentialsMissing
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || !strings.HasSuffix(name, ".json.gz") {
		return RestoreResult{}, fmt.Errorf("backup name %q: %w", name, models.ErrInvalidFormat)
	}
	remote, cleanup, err := s.connect(ctx)
	if err != nil {
		return RestoreResult{}, err
	}
	defer cleanup()

	tmp := filepath.Join(s.localDir, "restore-"+name)
	defer os.Remove(tmp)
	if err := remote.Download(ctx, name, tmp); err != nil {
		return RestoreResult{}, fmt.Errorf("download %s: %w", name, err)
	}
	bundle, err := readBundle(tmp)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read backup bundle: %w", err)
	}
	err = s.store.Modify(ctx, func(reg *store.Registry) (bool, error) {
		return true, reg.ReplaceUsers(bundle.Users)
	})
	if err != nil {
		return RestoreResult{}, err
	}
	if err := restoreFiles(s.contentRoot, bundle.Files); err != nil {
		return RestoreResult{}, fmt.Errorf("restore site files: %w", err)
	}
	s.logger.Printf("mega-backups: restored %s (%d users, %d files)", name, len(bundle.Users), len(bundle.Files))
	return RestoreResult{
		BackupName: name,
		Users:      len(bundle.Users),
		Sites:      bundle.siteCount(),
		Files:      len(bundle.Files),
		RestoredAt: s.clock().UTC(),
	}, nil
}

// Status exposes scheduler metadata for the admin API.
func (s *Service) Status() (Status, error) {
	doc, err := s.readStatus()
	if err != nil {
		return Status{}, err
	}
	return s.buildStatus(doc), nil
}

func (s *Service) tryScheduled(ctx context.Context) error {
	if !s.hasCredentials() {
		return ErrCredentialsMissing
	}
	doc, err := s.readStatus()
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	next := doc.NextRunDue
	if last, ok := doc.last(); ok && next.IsZero() {
		next = last.FinishedAt.Add(s.interval)
	}
	if !next.IsZero() && now.Before(next) {
		return nil
	}
	doc, err = s.markRunning()
	if err != nil {
		if errors.Is(err, ErrBackupInProgress) {
			return nil
		}
		return err
	}
	_, err = s.execute(ctx, doc)
	return err
}

func (s *Service) execute(ctx context.Context, doc statusDocument) (result RunResult, execErr error) {
	result.StartedAt = doc.CurrentStart
	var localPath string
	defer func() {
		if localPath != "" {
			if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Printf("mega-backups: remove local artefact failed: %v", err)
			}
		}
		if err := s.finishRun(doc, result, execErr, s.clock().UTC().Add(s.interval)); err != nil {
			s.logger.Printf("mega-backups: failed to persist status: %v", err)
		}
	}()

	bundle, err := s.buildBundle(ctx)
	if err != nil {
		return result, err
	}
	result.Users = len(bundle.Users)
	result.Sites = bundle.siteCount()
	path, size, err := s.writeBundle(bundle)
	if err != nil {
		return result, err
	}
	localPath = path
	result.Bytes = size

	remote, cleanup, err := s.connect(ctx)
	if err != nil {
		return result, err
	}
	defer cleanup()

	name := filepath.Base(path)
	if err := remote.Upload(ctx, path, name); err != nil {
		return result, fmt.Errorf("upload %s: %w", name, err)
	}
	result.BackupName = name
	if err := s.enforceRetention(ctx, remote); err != nil {
		s.logger.Printf("mega-backups: retention enforcement failed: %v", err)
	}
	result.CompletedAt = s.clock().UTC()
	s.logger.Printf("mega-backups: uploaded %s (%d bytes)", name, size)
	return result, nil
}

func (s *Service) enforceRetention(ctx context.Context, remote Remote) error {
	files, err := remote.List(ctx)
	if err != nil {
		return err
	}
	for i := s.retention; i < len(files); i++ {
		if err := remote.Delete(ctx, files[i].Name); err != nil {
			return fmt.Errorf("delete %s: %w", files[i].Name, err)
		}
	}
	return nil
}
