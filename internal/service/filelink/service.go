// Package filelink duplicates the file links of copied work packages so
// that they point at the files of the target project folder.
package filelink

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/common/utils"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/peripherals"
	"github.com/xuecangming/folder-copy/internal/repository"
)

// Outcome reports the duplication of a single file link
type Outcome struct {
	SourceFileLinkID  int64  `json:"source_file_link_id"`
	SourceContainerID int64  `json:"source_container_id"`
	TargetContainerID int64  `json:"target_container_id"`
	FileLinkID        int64  `json:"file_link_id,omitempty"`
	OriginID          string `json:"origin_id,omitempty"`
	Err               error  `json:"-"`
}

// Failed reports whether the link could not be created
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Failed returns the failed outcomes
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Service copies file links between project storages
type Service struct {
	links    repository.FileLinkRepository
	registry *peripherals.Registry
	logger   logger.Logger
}

// NewService creates a new file link copy service
func NewService(links repository.FileLinkRepository, registry *peripherals.Registry, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		links:    links,
		registry: registry,
		logger:   log,
	}
}

// Copy duplicates every file link of the mapped source work packages onto
// the corresponding target work packages. Only a failing storage query
// aborts the call; per-link creation failures are reported in the outcomes.
func (s *Service) Copy(ctx context.Context, source, target *types.ProjectStorage, userID int64, workPackages types.WorkPackageMap) ([]Outcome, error) {
	wpMap, err := utils.NormalizeWorkPackageMap(workPackages)
	if err != nil {
		return nil, err
	}

	containerIDs := make([]int64, 0, len(wpMap))
	for id := range wpMap {
		containerIDs = append(containerIDs, id)
	}
	sort.Slice(containerIDs, func(i, j int) bool { return containerIDs[i] < containerIDs[j] })

	sourceLinks, err := s.links.ListByContainers(ctx, types.ContainerTypeWorkPackage, containerIDs)
	if err != nil {
		return nil, err
	}
	if len(sourceLinks) == 0 {
		return []Outcome{}, nil
	}

	// only automatically managed folders move files to new ids
	originOf := func(link *types.FileLink) string { return link.OriginID }
	if source.ProjectFolderMode == types.FolderModeAutomatic {
		locations, err := s.locationMap(ctx, source, target, userID, sourceLinks)
		if err != nil {
			return nil, err
		}
		originOf = func(link *types.FileLink) string { return locations[link.OriginID] }
	}

	outcomes := make([]Outcome, 0, len(sourceLinks))
	for _, link := range sourceLinks {
		clone := link.Clone()
		clone.CreatorID = userID
		clone.ContainerID = wpMap[link.ContainerID]
		clone.OriginID = originOf(link)

		outcome := Outcome{
			SourceFileLinkID:  link.ID,
			SourceContainerID: link.ContainerID,
			TargetContainerID: clone.ContainerID,
			OriginID:          clone.OriginID,
		}

		created, err := s.links.Create(ctx, clone)
		if err != nil {
			outcome.Err = err
		} else {
			outcome.FileLinkID = created.ID
		}
		outcomes = append(outcomes, outcome)
	}

	s.logger.Info("File links copied",
		logger.Int64("source_id", source.ID),
		logger.Int64("target_id", target.ID),
		logger.Int("total", len(outcomes)),
		logger.Int("failed", len(Failed(outcomes))))

	return outcomes, nil
}

// locationMap maps each source origin id to the id of the file at the
// corresponding path below the target's managed folder. Files that cannot
// be found map to "".
func (s *Service) locationMap(ctx context.Context, source, target *types.ProjectStorage, userID int64, links []*types.FileLink) (map[string]string, error) {
	if source.Storage == nil {
		return nil, errors.InvalidArgument("source project storage has no storage")
	}
	targetStorage := target.Storage
	if targetStorage == nil {
		targetStorage = source.Storage
	}

	listing, err := s.registry.FolderFiles(targetStorage.Provider)
	if err != nil {
		return nil, err
	}
	info, err := s.registry.FilesInfo(source.Storage.Provider)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(links))
	fileIDs := make([]string, 0, len(links))
	for _, link := range links {
		if link.OriginID != "" && !seen[link.OriginID] {
			seen[link.OriginID] = true
			fileIDs = append(fileIDs, link.OriginID)
		}
	}

	var targetFiles map[string]string
	var sourceFiles []types.StorageFileInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		targetFiles, err = listing.FolderFileIDs(gctx, targetStorage, types.ParentFolder{Location: target.ProjectFolderLocation()})
		return err
	})
	g.Go(func() error {
		var err error
		sourceFiles, err = info.FilesInfo(gctx, source.Storage, userID, fileIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("Resolving copied file locations failed",
			logger.Int64("source_id", source.ID),
			logger.Int64("target_id", target.ID),
			logger.Error(err))
		return nil, err
	}

	sourceRoot := source.ManagedFolderPath()
	targetRoot := target.ManagedFolderPath()

	locations := make(map[string]string, len(sourceFiles))
	for _, file := range sourceFiles {
		if file.Location == "" {
			locations[file.ID] = ""
			continue
		}
		expected := file.Location
		if strings.HasPrefix(expected, sourceRoot) {
			expected = targetRoot + strings.TrimPrefix(expected, sourceRoot)
		}
		locations[file.ID] = targetFiles[expected]
	}
	return locations, nil
}
