package projectstorage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/repository"
)

func TestUpdateFolder(t *testing.T) {
	repo := repository.NewMemoryProjectStorageRepository()
	target := &types.ProjectStorage{ID: 2, ProjectFolderMode: types.FolderModeInactive}
	repo.Put(target)
	svc := NewUpdateService(repo, logger.Nop())

	updated, err := svc.UpdateFolder(context.Background(), target, "R", types.FolderModeAutomatic)
	require.NoError(t, err)
	assert.Equal(t, "R", updated.ProjectFolderID)
	assert.Equal(t, types.FolderModeAutomatic, updated.ProjectFolderMode)

	stored, _ := repo.Get(context.Background(), 2)
	assert.Equal(t, "R", stored.ProjectFolderID)
}

func TestUpdateFolder_Validation(t *testing.T) {
	repo := repository.NewMemoryProjectStorageRepository()
	svc := NewUpdateService(repo, logger.Nop())
	target := &types.ProjectStorage{ID: 3}

	_, err := svc.UpdateFolder(context.Background(), target, "", types.FolderModeManual)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = svc.UpdateFolder(context.Background(), target, "x", "weekly")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = svc.UpdateFolder(context.Background(), target, "", types.FolderModeInactive)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}
