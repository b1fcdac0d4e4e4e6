// Package artifact stores attachment files and exposes them through the
// core.Uploader collaborator. Store implementations live here (in-memory) and
// in subpackages (azure, backed by azblob).
package artifact
