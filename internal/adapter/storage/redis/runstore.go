package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"go.uber.org/zap"
)

// kvStorage is the part of the fiber storage interface the store needs
type kvStorage interface {
	Set(key string, val []byte, exp time.Duration) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

type runStore struct {
	storage kvStorage
	ttl     time.Duration
	log     *zap.Logger
}

// NewRunStore keeps run snapshots in Redis for ttl after they were last written
func NewRunStore(storage kvStorage, ttl time.Duration, log *zap.Logger) port.RunStatusStore {
	return &runStore{
		storage: storage,
		ttl:     ttl,
		log:     log,
	}
}

func runKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

// SaveRun overwrites the snapshot and extends its TTL
func (s *runStore) SaveRun(ctx context.Context, result domain.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := s.storage.Set(runKey(result.RunID), data, s.ttl); err != nil {
		return fmt.Errorf("save run %s: %w", result.RunID, err)
	}
	s.log.Debug("Saved run snapshot", zap.String("run_id", result.RunID), zap.String("status", string(result.Status)))
	return nil
}

// GetRun returns domain.ErrRunNotFound for unknown or expired runs
func (s *runStore) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.storage.Get(runKey(runID))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	var result domain.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}
