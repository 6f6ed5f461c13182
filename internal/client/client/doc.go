// Package client is the survey client's view of the remote API.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface) for the
//     black-box CRUD service: hierarchy entities, photo upload, survey
//     entries, photo records and the health probe.
//  2. A JSON-over-HTTP implementation (see HTTPClient) built on resty that
//     maps HTTP failures to sentinel errors.
//  3. Blob uploaders: the server's multipart endpoint (HTTPUploader) or an
//     S3-compatible bucket (S3Uploader).
//
// # Error Handling
//
// Callers match failures with errors.Is: ErrUnavailable (network errors,
// timeouts, 5xx, 429), ErrUnauthorized (401/403), ErrValidation (400/422)
// and common.ErrNotFound (404).
//
// Every create carries the client's offline id so the server can treat a
// repeated create as the same record.
package client
