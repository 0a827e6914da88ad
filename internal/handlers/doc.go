// Package handlers provides HTTP request handlers for the media pipeline API.
//
// It includes handlers for:
//   - Media upload, lookup, and deletion
//   - Transcode job submission, status, and cancellation
//   - Image re-encode task submission, status, and cancellation
//   - Dedup efficiency stats
//   - Manual reconciliation sweeps and hash registry purges
//   - Health checks and build information
//
// Caller identity arrives in the X-Owner-Id and X-Admin headers, which the
// upstream gateway is expected to set after authenticating the request.
package handlers
