package projectfolder

import (
	"context"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/peripherals"
)

// Service copies the project folder of a source project storage for a
// target project storage
type Service struct {
	registry *peripherals.Registry
	logger   logger.Logger
}

// NewService creates a new project folder copy service
func NewService(registry *peripherals.Registry, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		registry: registry,
		logger:   log,
	}
}

// Copy decides from the source's folder mode whether a remote copy is
// needed and starts it if so. Inactive and manual sources never touch the
// storage.
func (s *Service) Copy(ctx context.Context, source, target *types.ProjectStorage) (*types.CopyResult, error) {
	switch source.ProjectFolderMode {
	case types.FolderModeInactive:
		return &types.CopyResult{}, nil

	case types.FolderModeManual:
		return &types.CopyResult{ID: source.ProjectFolderID}, nil

	case types.FolderModeAutomatic:
		return s.copyManagedFolder(ctx, source, target)

	default:
		return nil, errors.InvalidArgument("unknown project folder mode").
			WithDetails("mode", string(source.ProjectFolderMode))
	}
}

func (s *Service) copyManagedFolder(ctx context.Context, source, target *types.ProjectStorage) (*types.CopyResult, error) {
	if source.Storage == nil {
		return nil, errors.InvalidArgument("source project storage has no storage")
	}

	command, err := s.registry.CopyFolder(source.Storage.Provider)
	if err != nil {
		return nil, err
	}

	destination := target.ManagedFolderPath()
	res, err := command.CopyFolder(ctx, source.Storage, source.ProjectFolderLocation(), destination)
	if err != nil {
		s.logger.Warn("Project folder copy failed",
			logger.Int64("source_id", source.ID),
			logger.Int64("target_id", target.ID),
			logger.String("destination", destination),
			logger.Error(err))
		return nil, err
	}

	return &types.CopyResult{
		ID:              res.ID,
		PollingURL:      res.PollingURL,
		RequiresPolling: res.PollingURL != "" && res.ID == "",
	}, nil
}
