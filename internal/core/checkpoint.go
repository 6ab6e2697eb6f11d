package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Checkpoint is a saved snapshot of an improvement session.
type Checkpoint struct {
	ID        string              `json:"id"`
	Iteration int                 `json:"iteration"`
	State     SessionState        `json:"state"`
	Score     float64             `json:"score"`
	Timestamp time.Time           `json:"timestamp"`
	Session   *ImprovementSession `json:"session"`
}

type CheckpointManager struct {
	storage Storage
}

func NewCheckpointManager(storage Storage) *CheckpointManager {
	return &CheckpointManager{
		storage: storage,
	}
}

func checkpointPath(sessionID string) string {
	return fmt.Sprintf("checkpoints/%s.json", sessionID)
}

// Save overwrites the checkpoint for the session
func (cm *CheckpointManager) Save(ctx context.Context, session *ImprovementSession) error {
	checkpoint := &Checkpoint{
		ID:        session.ID,
		Iteration: session.Iteration,
		State:     session.State,
		Timestamp: time.Now(),
		Session:   session,
	}
	if n := len(session.History); n > 0 {
		checkpoint.Score = session.History[n-1].Score
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return cm.storage.Save(ctx, checkpointPath(session.ID), data)
}

func (cm *CheckpointManager) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	data, err := cm.storage.Load(ctx, checkpointPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return &checkpoint, nil
}

// List returns every readable checkpoint, most recent first
func (cm *CheckpointManager) List(ctx context.Context) ([]*Checkpoint, error) {
	files, err := cm.storage.List(ctx, "checkpoints/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, file := range files {
		data, err := cm.storage.Load(ctx, file)
		if err != nil {
			continue
		}

		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}

		checkpoints = append(checkpoints, &checkpoint)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Timestamp.After(checkpoints[j].Timestamp)
	})

	return checkpoints, nil
}

func (cm *CheckpointManager) Delete(ctx context.Context, sessionID string) error {
	return cm.storage.Delete(ctx, checkpointPath(sessionID))
}
