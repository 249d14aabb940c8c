package types

import "time"

// ContainerTypeWorkPackage is the only container type file links are copied for
const ContainerTypeWorkPackage = "WorkPackage"

// FileLink references a file on an external storage from a container
type FileLink struct {
	ID             int64     `json:"id"`
	StorageID      int64     `json:"storage_id"`
	ContainerID    int64     `json:"container_id"`
	ContainerType  string    `json:"container_type"`
	CreatorID      int64     `json:"creator_id"`
	OriginID       string    `json:"origin_id,omitempty"` // empty when the file could not be located
	OriginName     string    `json:"origin_name"`
	OriginMimeType string    `json:"origin_mime_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a copy of the link without identity and timestamps
func (fl *FileLink) Clone() *FileLink {
	return &FileLink{
		StorageID:      fl.StorageID,
		ContainerID:    fl.ContainerID,
		ContainerType:  fl.ContainerType,
		CreatorID:      fl.CreatorID,
		OriginID:       fl.OriginID,
		OriginName:     fl.OriginName,
		OriginMimeType: fl.OriginMimeType,
	}
}
