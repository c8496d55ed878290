// Package chat defines the JSON shapes shared by the gateway and its clients.
//
// A ChatMessage names its participants with a UserRef. On the wire that is
// either a bare id string or a populated profile object, and decoding
// accepts both. Use SenderID and ReceiverID to read the canonical ids.
package chat
