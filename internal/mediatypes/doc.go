// Package mediatypes provides shared type definitions and utilities for
// classifying media files across the pipeline.
//
// This package exists as a dependency-free foundation that can be imported
// by other packages without creating import cycles. It contains the
// MediaKind enum, the extension and MIME allow-lists, and pure utility
// functions with no dependencies beyond the standard library.
//
// Classification drives two decisions elsewhere in the pipeline: which
// processing queue an upload routes to, and whether the reconciler may ever
// consider a stored object for deletion (IsManagedExtension).
package mediatypes
