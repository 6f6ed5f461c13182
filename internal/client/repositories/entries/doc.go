// Package entries keeps a local copy of survey entries pulled from the
// server, so photos captured on other devices can be browsed offline.
//
// Entries are keyed by their offlineId when the server reports one and by
// the server id otherwise. Pulled entries are only ever inserted: an
// existing local row is never overwritten by a pull.
package entries
