// Package blobstore stores uploaded lecture files and validates them by
// content before any quota is consumed.
//
// Two backends implement Store: FileStore writes under a local root and
// S3Store writes to an S3 compatible bucket. Keys are path-like and chosen
// by the caller, usually through NewKey.
package blobstore
