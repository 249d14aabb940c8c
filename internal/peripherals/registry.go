// Package peripherals holds the typed registry of storage provider
// capabilities. Orchestration code resolves a capability by the storage's
// provider type and never talks to a vendor client directly.
package peripherals

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// CopyFolderCommand starts a server-side copy of a folder.
type CopyFolderCommand interface {
	CopyFolder(ctx context.Context, storage *types.Storage, sourcePath, destinationPath string) (*types.CopyFolderResult, error)
}

// FolderFilesQuery lists every file below a folder, recursively, as a map
// from absolute path to file id.
type FolderFilesQuery interface {
	FolderFileIDs(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error)
}

// FilesInfoQuery resolves file ids to their location on the storage.
type FilesInfoQuery interface {
	FilesInfo(ctx context.Context, storage *types.Storage, userID int64, fileIDs []string) ([]types.StorageFileInfo, error)
}

// Provider bundles the capabilities of one storage provider. A nil field
// means the provider does not support that capability.
type Provider struct {
	CopyFolder  CopyFolderCommand
	FolderFiles FolderFilesQuery
	FilesInfo   FilesInfoQuery
}

// Registry maps provider types to their capabilities
type Registry struct {
	providers map[types.ProviderType]Provider
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[types.ProviderType]Provider),
	}
}

// Register adds the capabilities for a provider type.
// Panics if the provider type is already registered.
func (r *Registry) Register(pt types.ProviderType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[pt]; exists {
		panic(fmt.Sprintf("storage provider already registered: %s", pt))
	}
	r.providers[pt] = p
}

// Resolve returns the capabilities registered for pt
func (r *Registry) Resolve(pt types.ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[pt]
	if !ok {
		return Provider{}, errors.NewNotFoundError("unknown storage provider").WithDetails("provider", string(pt))
	}
	return p, nil
}

// Providers returns the registered provider types, sorted
func (r *Registry) Providers() []types.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ProviderType, 0, len(r.providers))
	for pt := range r.providers {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CopyFolder resolves the copy folder command of pt
func (r *Registry) CopyFolder(pt types.ProviderType) (CopyFolderCommand, error) {
	p, err := r.Resolve(pt)
	if err != nil {
		return nil, err
	}
	if p.CopyFolder == nil {
		return nil, unsupported(pt, "copy_folder")
	}
	return p.CopyFolder, nil
}

// FolderFiles resolves the recursive folder listing query of pt
func (r *Registry) FolderFiles(pt types.ProviderType) (FolderFilesQuery, error) {
	p, err := r.Resolve(pt)
	if err != nil {
		return nil, err
	}
	if p.FolderFiles == nil {
		return nil, unsupported(pt, "folder_files")
	}
	return p.FolderFiles, nil
}

// FilesInfo resolves the files info query of pt
func (r *Registry) FilesInfo(pt types.ProviderType) (FilesInfoQuery, error) {
	p, err := r.Resolve(pt)
	if err != nil {
		return nil, err
	}
	if p.FilesInfo == nil {
		return nil, unsupported(pt, "files_info")
	}
	return p.FilesInfo, nil
}

func unsupported(pt types.ProviderType, capability string) error {
	return errors.ProviderError("capability not supported by storage provider").
		WithDetails("provider", string(pt)).
		WithDetails("capability", capability)
}

// CopyFolderFunc adapts a function to CopyFolderCommand
type CopyFolderFunc func(ctx context.Context, storage *types.Storage, sourcePath, destinationPath string) (*types.CopyFolderResult, error)

func (f CopyFolderFunc) CopyFolder(ctx context.Context, storage *types.Storage, sourcePath, destinationPath string) (*types.CopyFolderResult, error) {
	return f(ctx, storage, sourcePath, destinationPath)
}

// FolderFilesFunc adapts a function to FolderFilesQuery
type FolderFilesFunc func(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error)

func (f FolderFilesFunc) FolderFileIDs(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error) {
	return f(ctx, storage, folder)
}

// FilesInfoFunc adapts a function to FilesInfoQuery
type FilesInfoFunc func(ctx context.Context, storage *types.Storage, userID int64, fileIDs []string) ([]types.StorageFileInfo, error)

func (f FilesInfoFunc) FilesInfo(ctx context.Context, storage *types.Storage, userID int64, fileIDs []string) ([]types.StorageFileInfo, error) {
	return f(ctx, storage, userID, fileIDs)
}
