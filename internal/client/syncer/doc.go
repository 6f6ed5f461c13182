// Package syncer moves staged local changes to the server.
//
// A sync pass runs four ordered steps: pull missing server records, push
// pending folders, drain the mutation queue for villages, sub-villages and
// houses, and upload pending photos. Passes are exclusive; a pass requested
// while another one runs is dropped with common.ErrSyncInProgress.
//
// Every create carries the record's offline id and the server treats a
// repeated offline id as "return the existing record", so a pass can be
// re-run after any partial failure without creating duplicates.
package syncer
