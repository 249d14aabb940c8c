package types

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ProviderType identifies the external storage backend of a Storage
type ProviderType string

const (
	ProviderOneDrive  ProviderType = "one_drive"
	ProviderNextcloud ProviderType = "nextcloud"
)

// AddressesFoldersByID reports whether the provider addresses folders by an
// opaque item id rather than by path.
func (p ProviderType) AddressesFoldersByID() bool {
	return p == ProviderOneDrive
}

// FolderMode represents how a project's folder on a storage is managed
type FolderMode string

const (
	FolderModeInactive  FolderMode = "inactive"
	FolderModeManual    FolderMode = "manual"
	FolderModeAutomatic FolderMode = "automatic"
)

// Valid reports whether m is a known folder mode
func (m FolderMode) Valid() bool {
	switch m {
	case FolderModeInactive, FolderModeManual, FolderModeAutomatic:
		return true
	}
	return false
}

// Storage represents an external storage backend
type Storage struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Provider          ProviderType `json:"provider"`
	Host              string       `json:"host,omitempty"`
	DriveID           string       `json:"drive_id,omitempty"`
	TenantID          string       `json:"tenant_id,omitempty"`
	ClientID          string       `json:"client_id,omitempty"`
	ClientSecret      string       `json:"-"`
	Username          string       `json:"username,omitempty"`
	Password          string       `json:"-"`
	ProjectFolderRoot string       `json:"project_folder_root,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// ProjectStorage binds a project (container) to a location on a Storage
type ProjectStorage struct {
	ID                int64      `json:"id"`
	ProjectID         int64      `json:"project_id"`
	ProjectName       string     `json:"project_name"`
	StorageID         int64      `json:"storage_id"`
	Storage           *Storage   `json:"storage,omitempty"`
	ProjectFolderID   string     `json:"project_folder_id,omitempty"`
	ProjectFolderMode FolderMode `json:"project_folder_mode"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ManagedFolderPath returns the absolute path of the automatically managed
// project folder, always with a trailing slash.
func (ps *ProjectStorage) ManagedFolderPath() string {
	name := fmt.Sprintf("%s (%d)", strings.ReplaceAll(ps.ProjectName, "/", "|"), ps.ProjectID)

	root := ""
	if ps.Storage != nil {
		root = ps.Storage.ProjectFolderRoot
	}

	return path.Join("/", root, name) + "/"
}

// ProjectFolderLocation returns the reference the provider uses to address
// the project folder: the folder id for id-addressed providers, the managed
// path otherwise.
func (ps *ProjectStorage) ProjectFolderLocation() string {
	if ps.ProjectFolderMode == FolderModeAutomatic &&
		ps.Storage != nil && !ps.Storage.Provider.AddressesFoldersByID() {
		return ps.ManagedFolderPath()
	}
	return ps.ProjectFolderID
}

// ParentFolder references a folder on a storage, either by id or by path
type ParentFolder struct {
	Location string
}

// IsRoot reports whether the folder is the storage root
func (f ParentFolder) IsRoot() bool {
	return f.Location == "" || f.Location == "/"
}

// StorageFileInfo describes a single file on a storage
type StorageFileInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
}

// CopyFolderResult is what a provider returns when asked to copy a folder.
// ID set means the copy completed; PollingURL set means it runs asynchronously.
type CopyFolderResult struct {
	ID         string `json:"id,omitempty"`
	PollingURL string `json:"url,omitempty"`
}

// CopyResult is the outcome of copying a project folder
type CopyResult struct {
	ID              string `json:"id,omitempty"`
	PollingURL      string `json:"url,omitempty"`
	RequiresPolling bool   `json:"requires_polling"`
}
