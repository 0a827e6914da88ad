// Package storage abstracts the blob store behind the ObjectStore interface.
//
// Two backends are provided:
//   - LocalStore writes to a directory tree, with retry handling for
//     NFS-backed volumes (stale file handles, transient I/O errors)
//   - MinioStore targets any S3-compatible endpoint via the MinIO client
//
// Keys are sharded by hash prefix (for example ab/abcdef...12.jpg) so no
// single directory accumulates every object. Stores return stable serving
// URLs from Put, and KeyFromURL inverts the mapping so processing queues
// can fetch source bytes from a persisted URL.
package storage
