// Package messaging turns send requests into stored messages and pushes them
// to the live streams of both participants.
//
// # Send Flow
//
//  1. Validate: a recipient and some text or an image
//  2. Upload the image, if any, through a media.Uploader
//  3. Persist with store.Store.CreateMessage
//  4. Reload with the sender populated
//  5. Push to the sender's and the recipient's streams concurrently
//
// Pushes are best effort. A failed write unregisters and closes that handle
// and never fails the send. A bounded delivery log keeps a message from being
// written to the same handle twice, which matters when a user messages
// themselves.
//
// # Errors
//
//   - ErrInvalidRequest: the request was rejected before any side effect
//   - ErrUpload: the media backend failed; nothing was stored
//   - ErrStorage: the store failed to save or list
//
// History and Inbox are the read side used by the HTTP API. History also marks
// the peer's messages as seen.
package messaging
