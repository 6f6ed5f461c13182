package models

import (
	"encoding/json"
	"time"
)

// RemoteEntry is a server-side survey entry kept locally so photos captured
// on other devices can be listed offline.
type RemoteEntry struct {
	ID        string
	ServerID  int64
	OfflineID string
	SurveyID  int64
	FolderID  int64
	Data      json.RawMessage
	IsSynced  bool
	CreatedAt time.Time
}
