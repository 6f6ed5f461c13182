// Package entities persists villages, sub-villages, houses and folders in
// the on-device store.
//
// Each entity type lives in its own container (table) named after the type.
// Records are keyed by their local id, which is the offline id for records
// created on the device and never changes after the server acknowledges
// them. The server id is kept alongside as an annotation.
//
// Reads against a container that does not exist return empty results;
// writes fail with common.ErrContainerMissing.
//
// Typical Usage
//
//	repo := entities.NewSQLiteRepository(db)
//	id, _ := repo.Put(ctx, &models.Entity{ID: "v_1700000000000", Type: models.EntityVillage, ...})
//	kids, _ := repo.ListByIndex(ctx, models.EntitySubVillage, entities.IndexParentID, id)
package entities
