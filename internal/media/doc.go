// Package media stores message images.
//
// LocalUploader writes into an afero filesystem: the host disk in
// production, a MemMapFs in tests. It sniffs the content to accept only
// images, and serves stored files back through Handler. Validation failures
// wrap ErrInvalidMedia, and oversize files also wrap ErrTooLarge. Storage
// failures wrap ErrUpload.
package media
