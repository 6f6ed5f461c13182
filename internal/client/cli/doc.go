// Package cli provides the surveyctl command-line client.
//
// It wires configuration, the local store, the remote API client, the
// connectivity monitor, the status bus and the sync orchestrator into an App,
// and exposes them as a cobra command tree:
//
//   - village | subvillage | house | folder: add, list, edit, rm
//   - photo: add, list, rm, retry
//   - sync, status
//   - watch: run the engine in the foreground with the local status API
//   - reset-store, repair-store
//   - shell: an interactive loop sharing one open store
//
// Every command works offline; changes are queued and pushed by the next
// sync pass. See Execute and App.
package cli
