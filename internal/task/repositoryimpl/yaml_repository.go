package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/EdwardJXLi/TinyGen/internal/task"
	"github.com/EdwardJXLi/TinyGen/pkg/cerr"
	"github.com/EdwardJXLi/TinyGen/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository archives task snapshots as one YAML document per task on top
// of a Storage backend.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Save(ctx context.Context, snap *task.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(snap.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Snapshot, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var snap task.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &snap, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*task.Snapshot, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	var all []*task.Snapshot
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var snap task.Snapshot
		if err := yaml.Unmarshal(data, &snap); err != nil {
			continue
		}
		all = append(all, &snap)
	}
	return all, nil
}
