// Package models defines the on-device data model of the survey client:
// hierarchy entities, photos with their metadata, queued mutations and
// entries pulled from the server.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EntityType names a hierarchy container. The value doubles as the store
// table name and the remote API path segment.
type EntityType string

const (
	EntityFolder     EntityType = "folders"
	EntityVillage    EntityType = "villages"
	EntitySubVillage EntityType = "sub_villages"
	EntityHouse      EntityType = "houses"
)

// EntityTypes lists every entity type, parents before children.
var EntityTypes = []EntityType{EntityFolder, EntityVillage, EntitySubVillage, EntityHouse}

var ErrUnknownEntityType = errors.New("unknown entity type")

// ParseEntityType accepts the plural container name or a short alias
// ("village", "subvillage", "house", "folder").
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "folders", "folder", "f":
		return EntityFolder, nil
	case "villages", "village", "v":
		return EntityVillage, nil
	case "sub_villages", "subvillages", "sub_village", "subvillage", "sv":
		return EntitySubVillage, nil
	case "houses", "house", "h":
		return EntityHouse, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityFolder, EntityVillage, EntitySubVillage, EntityHouse:
		return true
	}
	return false
}

// Prefix is the offline id prefix for the type.
func (t EntityType) Prefix() string {
	switch t {
	case EntityFolder:
		return "f"
	case EntityVillage:
		return "v"
	case EntitySubVillage:
		return "sv"
	case EntityHouse:
		return "h"
	}
	return "x"
}

// Parent returns the type of the required parent, if any.
func (t EntityType) Parent() (EntityType, bool) {
	switch t {
	case EntitySubVillage:
		return EntityVillage, true
	case EntityHouse:
		return EntitySubVillage, true
	}
	return "", false
}

// Child returns the type whose records reference t as their parent.
func (t EntityType) Child() (EntityType, bool) {
	switch t {
	case EntityVillage:
		return EntitySubVillage, true
	case EntitySubVillage:
		return EntityHouse, true
	}
	return "", false
}

// Singular is used in log lines and CLI output.
func (t EntityType) Singular() string {
	switch t {
	case EntityFolder:
		return "folder"
	case EntityVillage:
		return "village"
	case EntitySubVillage:
		return "sub-village"
	case EntityHouse:
		return "house"
	}
	return string(t)
}

// SyncStatus of a hierarchy entity.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// Entity is a village, sub-village, house or folder.
//
// ID is the local primary key and never changes once assigned. ServerID is
// only an annotation recorded after the server acknowledged the record.
type Entity struct {
	ID        string
	Type      EntityType
	ServerID  int64
	OfflineID string
	ParentID  string

	Name       string
	Attributes map[string]string

	SyncStatus SyncStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Synced reports whether the server has acknowledged the record.
func (e *Entity) Synced() bool {
	return e.SyncStatus == SyncSynced && e.ServerID != 0
}

// Validate checks the structural invariants enforced on every store write.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return errors.New("entity id is empty")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, e.Type)
	}
	if e.SyncStatus == SyncSynced && e.ServerID == 0 {
		return errors.New("synced entity without server id")
	}
	if _, ok := e.Type.Parent(); ok && e.ParentID == "" {
		return fmt.Errorf("%s requires a parent", e.Type.Singular())
	}
	return nil
}

// IDGenerator produces offline ids of the form <prefix>_<unix-millis>.
// Ids are strictly increasing across all prefixes, so two ids generated
// within the same millisecond still differ.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

func (g *IDGenerator) Next(t EntityType) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return t.Prefix() + "_" + strconv.FormatInt(ms, 10)
}

// ParseOfflineID splits an offline id into its prefix and timestamp.
func ParseOfflineID(id string) (prefix string, ms int64, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	ms, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], ms, true
}
