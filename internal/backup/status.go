package backup

import (
	"encoding/json"
	"os"
	"time"
)

// historyLimit bounds the run log kept in status.json.
const historyLimit = 10

// RunRecord is one entry of the backup run log, newest first.
type RunRecord struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	BackupName string    `json:"backup_name,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
}

type statusDocument struct {
	CurrentStart        time.Time   `json:"current_started_at,omitempty"`
	NextRunDue          time.Time   `json:"next_run_at"`
	LastSuccess         time.Time   `json:"last_success_at,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures,omitempty"`
	History             []RunRecord `json:"history,omitempty"`
}

func (d statusDocument) last() (RunRecord, bool) {
	if len(d.History) == 0 {
		return RunRecord{}, false
	}
	return d.History[0], true
}

func (s *Service) readStatus() (statusDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStatusLocked()
}

func (s *Service) readStatusLocked() (statusDocument, error) {
	var doc statusDocument
	data, err := os.ReadFile(s.statusPath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return statusDocument{}, err
	}
	return doc, nil
}

func (s *Service) writeStatus(doc statusDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, s.statusPath)
}

// markRunning claims the single run slot.
func (s *Service) markRunning() (statusDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return statusDocument{}, ErrBackupInProgress
	}
	doc, err := s.readStatusLocked()
	if err != nil {
		return doc, err
	}
	doc.CurrentStart = s.clock().UTC()
	doc.NextRunDue = time.Time{}
	if err := s.writeStatus(doc); err != nil {
		return doc, err
	}
	s.running = true
	return doc, nil
}

func (s *Service) finishRun(doc statusDocument, result RunResult, runErr error, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	rec := RunRecord{StartedAt: doc.CurrentStart, FinishedAt: s.clock().UTC(), Result: "success"}
	if runErr != nil {
		rec.Result = "failed"
		rec.Error = runErr.Error()
		doc.ConsecutiveFailures++
	} else {
		rec.BackupName = result.BackupName
		rec.Bytes = result.Bytes
		doc.LastSuccess = result.CompletedAt.UTC()
		doc.ConsecutiveFailures = 0
	}
	doc.History = append([]RunRecord{rec}, doc.History...)
	if len(doc.History) > historyLimit {
		doc.History = doc.History[:historyLimit]
	}
	doc.CurrentStart = time.Time{}
	doc.NextRunDue = next.UTC()
	return s.writeStatus(doc)
}

func (s *Service) buildStatus(doc statusDocument) Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := Status{
		Enabled:             s.cfg.BackupEnabled,
		HasCredentials:      s.hasCredentials(),
		Running:             running,
		Frequency:           s.interval.String(),
		Retention:           s.retention,
		ConsecutiveFailures: doc.ConsecutiveFailures,
		History:             doc.History,
		LastSuccess:         timePtr(doc.LastSuccess),
		NextRunDue:          timePtr(doc.NextRunDue),
	}
	if last, ok := doc.last(); ok {
		status.LastRunStarted = timePtr(last.StartedAt)
		status.LastRunFinished = timePtr(last.FinishedAt)
		status.LastResult = last.Result
		status.LastError = last.Error
		status.LastBackupName = last.BackupName
	}
	if running {
		status.LastRunStarted = timePtr(doc.CurrentStart)
		status.LastResult = "running"
	}
	return status
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
