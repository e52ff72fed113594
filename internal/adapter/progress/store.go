// Package progress implements the shared progress snapshot store on Redis.
//
// One snapshot is kept per analysis job and per export. Updates are
// read-modify-write: the write is guarded by a versioned compare-and-set Lua
// script so concurrent phase callbacks on the same key cannot lose updates.
package progress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

const (
	jobKeyPrefix    = "analysis:progress:"
	exportKeyPrefix = "export:progress:"

	// casAttempts bounds the optimistic retry loop of one update.
	casAttempts = 16
)

// Snapshot hashes carry the serialized document, a monotonically increasing
// version, and the wall-clock start used for the remaining-time estimate.
const casScript = `
local ver = redis.call('HGET', KEYS[1], 'ver')
if ver == false then
  ver = '0'
end
if ver ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'doc', ARGV[2], 'ver', tonumber(ARGV[1]) + 1)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// Store implements domain.ProgressStore on a Redis client.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	cas *redis.Script
	now func() time.Time
}

// NewStore builds a Store with the given snapshot TTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		rdb: rdb,
		ttl: ttl,
		cas: redis.NewScript(casScript),
		now: time.Now,
	}
}

// Init writes the all-pending snapshot for a job and records its start time.
func (s *Store) Init(ctx domain.Context, jobID string) error {
	snap := domain.NewPendingSnapshot(jobID)
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("op=progress.Init: marshal: %w", err)
	}
	key := jobKeyPrefix + jobID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"doc", string(doc),
		"ver", 1,
		"started_at", s.now().UTC().UnixMilli(),
	)
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=progress.Init: %w", err)
	}
	return nil
}

// Update patches one phase and re-derives overall, status and the remaining
// time estimate. It returns the snapshot as written.
func (s *Store) Update(ctx domain.Context, jobID string, phase domain.Phase, status domain.PhaseStatus, progress float64) (domain.ProgressSnapshot, error) {
	var out domain.ProgressSnapshot
	err := s.mutateJob(ctx, jobID, func(snap *domain.ProgressSnapshot, startedAt time.Time) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		snap.Phases[phase] = domain.PhaseProgress{Status: status, Progress: progress}
		snap.Overall = domain.OverallProgress(snap.Phases, domain.PhaseWeights())
		snap.Status = domain.DeriveJobStatus(snap.Phases)
		snap.EstimatedRemainingSeconds = domain.EstimateRemaining(s.now().UTC().Sub(startedAt), snap.Overall)
		out = *snap
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return out, nil
}

// Complete forces every non-failed phase to completed/100 and the job to
// completed. A failed phase keeps its failed state so observers still see
// which phase degraded.
func (s *Store) Complete(ctx domain.Context, jobID string) error {
	return s.mutateJob(ctx, jobID, func(snap *domain.ProgressSnapshot, _ time.Time) {
		for p, pp := range snap.Phases {
			if pp.Status != domain.PhaseFailed {
				snap.Phases[p] = domain.PhaseProgress{Status: domain.PhaseCompleted, Progress: 100}
			}
		}
		snap.Overall = domain.OverallProgress(snap.Phases, domain.PhaseWeights())
		snap.Status = domain.JobCompleted
		zero := 0.0
		snap.EstimatedRemainingSeconds = &zero
	})
}

// Fail marks the job failed, preserving last phase values, and records the
// operator-facing error string.
func (s *Store) Fail(ctx domain.Context, jobID string, errMsg string) error {
	return s.mutateJob(ctx, jobID, func(snap *domain.ProgressSnapshot, _ time.Time) {
		snap.Status = domain.JobFailed
		snap.Error = errMsg
		snap.EstimatedRemainingSeconds = nil
	})
}

// Get returns the stored snapshot, or nil when none exists.
func (s *Store) Get(ctx domain.Context, jobID string) (*domain.ProgressSnapshot, error) {
	doc, err := s.rdb.HGet(ctx, jobKeyPrefix+jobID, "doc").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=progress.Get: %w", err)
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("op=progress.Get: unmarshal: %w", err)
	}
	return &snap, nil
}

// Delete removes a job snapshot.
func (s *Store) Delete(ctx domain.Context, jobID string) error {
	if err := s.rdb.Del(ctx, jobKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("op=progress.Delete: %w", err)
	}
	return nil
}

// InitExport writes the initial pending snapshot for an export.
func (s *Store) InitExport(ctx domain.Context, exportID string) error {
	return s.writeExport(ctx, exportID, domain.ExportProgress{
		ExportID: exportID,
		Status:   domain.ExportPending,
		Progress: 0,
	}, true)
}

// UpdateExport sets the export's status and bounded percentage.
func (s *Store) UpdateExport(ctx domain.Context, exportID string, status domain.ExportStatus, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.mutateExport(ctx, exportID, func(ep *domain.ExportProgress) {
		ep.Status = status
		ep.Progress = domain.Round2(progress)
	})
}

// CompleteExport writes the terminal completed snapshot.
func (s *Store) CompleteExport(ctx domain.Context, exportID string) error {
	return s.mutateExport(ctx, exportID, func(ep *domain.ExportProgress) {
		ep.Status = domain.ExportCompleted
		ep.Progress = 100
		ep.Error = ""
	})
}

// FailExport writes the terminal failed snapshot with the error string.
func (s *Store) FailExport(ctx domain.Context, exportID string, errMsg string) error {
	return s.mutateExport(ctx, exportID, func(ep *domain.ExportProgress) {
		ep.Status = domain.ExportFailed
		ep.Error = errMsg
	})
}

// GetExport returns the stored export snapshot, or nil when none exists.
func (s *Store) GetExport(ctx domain.Context, exportID string) (*domain.ExportProgress, error) {
	doc, err := s.rdb.HGet(ctx, exportKeyPrefix+exportID, "doc").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=progress.GetExport: %w", err)
	}
	var ep domain.ExportProgress
	if err := json.Unmarshal([]byte(doc), &ep); err != nil {
		return nil, fmt.Errorf("op=progress.GetExport: unmarshal: %w", err)
	}
	return &ep, nil
}

// DeleteExport removes an export snapshot.
func (s *Store) DeleteExport(ctx domain.Context, exportID string) error {
	if err := s.rdb.Del(ctx, exportKeyPrefix+exportID).Err(); err != nil {
		return fmt.Errorf("op=progress.DeleteExport: %w", err)
	}
	return nil
}

// mutateJob runs one optimistic read-patch-CAS cycle, retrying on version
// races with concurrent writers.
func (s *Store) mutateJob(ctx domain.Context, jobID string, patch func(*domain.ProgressSnapshot, time.Time)) error {
	key := jobKeyPrefix + jobID
	for attempt := 0; attempt < casAttempts; attempt++ {
		vals, err := s.rdb.HMGet(ctx, key, "doc", "ver", "started_at").Result()
		if err != nil {
			return fmt.Errorf("op=progress.mutate: %w", err)
		}
		docRaw, _ := vals[0].(string)
		if docRaw == "" {
			return fmt.Errorf("op=progress.mutate: snapshot %s: %w", jobID, domain.ErrNotFound)
		}
		verRaw, _ := vals[1].(string)
		startRaw, _ := vals[2].(string)

		var snap domain.ProgressSnapshot
		if err := json.Unmarshal([]byte(docRaw), &snap); err != nil {
			return fmt.Errorf("op=progress.mutate: unmarshal: %w", err)
		}
		startedAt := s.now().UTC()
		if ms, err := strconv.ParseInt(startRaw, 10, 64); err == nil {
			startedAt = time.UnixMilli(ms).UTC()
		}

		patch(&snap, startedAt)

		doc, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("op=progress.mutate: marshal: %w", err)
		}
		ok, err := s.cas.Run(ctx, s.rdb, []string{key}, verRaw, string(doc), s.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("op=progress.mutate: cas: %w", err)
		}
		if ok == 1 {
			return nil
		}
		// Version moved under us; re-read and retry.
	}
	return fmt.Errorf("op=progress.mutate: snapshot %s: cas retries exhausted: %w", jobID, domain.ErrInternal)
}

func (s *Store) mutateExport(ctx domain.Context, exportID string, patch func(*domain.ExportProgress)) error {
	key := exportKeyPrefix + exportID
	for attempt := 0; attempt < casAttempts; attempt++ {
		vals, err := s.rdb.HMGet(ctx, key, "doc", "ver").Result()
		if err != nil {
			return fmt.Errorf("op=progress.mutateExport: %w", err)
		}
		docRaw, _ := vals[0].(string)
		if docRaw == "" {
			return fmt.Errorf("op=progress.mutateExport: snapshot %s: %w", exportID, domain.ErrNotFound)
		}
		verRaw, _ := vals[1].(string)

		var ep domain.ExportProgress
		if err := json.Unmarshal([]byte(docRaw), &ep); err != nil {
			return fmt.Errorf("op=progress.mutateExport: unmarshal: %w", err)
		}
		patch(&ep)

		doc, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("op=progress.mutateExport: marshal: %w", err)
		}
		ok, err := s.cas.Run(ctx, s.rdb, []string{key}, verRaw, string(doc), s.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("op=progress.mutateExport: cas: %w", err)
		}
		if ok == 1 {
			return nil
		}
	}
	return fmt.Errorf("op=progress.mutateExport: snapshot %s: cas retries exhausted: %w", exportID, domain.ErrInternal)
}

func (s *Store) writeExport(ctx domain.Context, exportID string, ep domain.ExportProgress, reset bool) error {
	doc, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("op=progress.writeExport: marshal: %w", err)
	}
	key := exportKeyPrefix + exportID
	pipe := s.rdb.TxPipeline()
	if reset {
		pipe.Del(ctx, key)
	}
	pipe.HSet(ctx, key, "doc", string(doc), "ver", 1)
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=progress.writeExport: %w", err)
	}
	return nil
}

// Ping reports whether the backing Redis is reachable, for readiness checks.
func (s *Store) Ping(ctx domain.Context) error {
	return s.rdb.Ping(ctx).Err()
}
