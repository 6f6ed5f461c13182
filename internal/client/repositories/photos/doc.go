// Package photos provides the on-device persistence of captured photos.
//
// Photos and their metadata live in two containers joined by photo id:
// photos holds the blob and the sync state machine, photo_metadata holds
// location, description and the local ids of the hierarchy records the
// photo belongs to.
package photos
