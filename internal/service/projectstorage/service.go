package projectstorage

import (
	"context"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/repository"
)

// UpdateService changes where a project storage's folder lives
type UpdateService struct {
	repo   repository.ProjectStorageRepository
	logger logger.Logger
}

// NewUpdateService creates a new update service
func NewUpdateService(repo repository.ProjectStorageRepository, log logger.Logger) *UpdateService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &UpdateService{repo: repo, logger: log}
}

// UpdateFolder sets the folder id and mode of target and returns the
// updated record
func (s *UpdateService) UpdateFolder(ctx context.Context, target *types.ProjectStorage, folderID string, mode types.FolderMode) (*types.ProjectStorage, error) {
	if target == nil {
		return nil, errors.InvalidArgument("project storage is required")
	}
	if !mode.Valid() {
		return nil, errors.InvalidArgument("unknown project folder mode").WithDetails("mode", string(mode))
	}
	if mode == types.FolderModeManual && folderID == "" {
		return nil, errors.InvalidArgument("manual project folders need a folder id")
	}

	updated, err := s.repo.UpdateFolder(ctx, target.ID, folderID, mode)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project folder updated",
		logger.Int64("project_storage_id", target.ID),
		logger.String("folder_id", folderID),
		logger.String("mode", string(mode)))

	return updated, nil
}
