package models

import "time"

// PhotoStatus is the photo sync state machine:
// pending -> syncing -> synced | failed; failed -> pending only on reset.
type PhotoStatus string

const (
	PhotoPending PhotoStatus = "pending"
	PhotoSyncing PhotoStatus = "syncing"
	PhotoFailed  PhotoStatus = "failed"
	PhotoSynced  PhotoStatus = "synced"
)

// Photo is a captured image held on the device until it reaches the server.
// ID is a UUID and is also sent as the photo's offlineId.
type Photo struct {
	ID        string
	Blob      []byte
	Checksum  []byte
	Size      int64
	Timestamp time.Time

	SyncStatus PhotoStatus
	LastError  string

	// BlobPurged is set when the quota guard dropped the local bytes of an
	// already synced photo.
	BlobPurged bool

	URL           string
	ServerEntryID int64
	ServerPhotoID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhotoMetadata is stored separately and joined by PhotoID.
// Hierarchy references are local ids.
type PhotoMetadata struct {
	PhotoID      string
	Location     string
	Description  string
	FolderID     string
	HouseID      string
	VillageID    string
	SubVillageID string
	SurveyID     int64
}

// PhotoStats summarises local photo storage.
type PhotoStats struct {
	Counts    map[PhotoStatus]int
	BlobBytes int64
	Purged    int
}

func (s PhotoStats) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}
