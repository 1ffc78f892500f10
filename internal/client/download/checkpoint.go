package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/kv"
)

// CheckpointStore persists download checkpoints as JSON in a kv.Repository,
// keyed by download id.
type CheckpointStore struct {
	repo kv.Repository
}

func NewCheckpointStore(repo kv.Repository) *CheckpointStore {
	return &CheckpointStore{repo: repo}
}

// Load returns (nil, nil) when no checkpoint exists for id.
func (s *CheckpointStore) Load(ctx context.Context, id string) (*models.Checkpoint, error) {
	raw, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	if cp.ID == "" {
		cp.ID = id
	}
	return &cp, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ID, err)
	}
	return s.repo.Set(ctx, cp.ID, raw)
}

func (s *CheckpointStore) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// List returns every stored checkpoint ordered by id. Entries that fail to
// decode are skipped and reported in the second return value.
func (s *CheckpointStore) List(ctx context.Context) ([]*models.Checkpoint, []string, error) {
	all, err := s.repo.List(ctx, IDPrefix)
	if err != nil {
		return nil, nil, err
	}

	var (
		result []*models.Checkpoint
		broken []string
	)
	for id, raw := range all {
		var cp models.Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			broken = append(broken, id)
			continue
		}
		if cp.ID == "" {
			cp.ID = id
		}
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	sort.Strings(broken)
	return result, broken, nil
}
