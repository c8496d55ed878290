// Package client is the receiving side of the direct-message stream.
//
// # Overview
//
// A Chat ties together four pieces:
//
//   - Client: the HTTP API (send, history, inbox) and the stream dialer
//   - Consumer: classifies stream frames and files relevant messages
//   - LocalMessageSet: the ordered, id-deduplicated messages on screen
//   - Controller: keeps one stream open, reconnecting after drops
//
// # Frame Handling
//
// The consumer applies these rules to each frame, in order:
//
//   - empty or comment payloads are heartbeats and are ignored
//   - event frames and payloads starting with "log:" are control lines
//   - payloads that are not valid message JSON are logged and skipped
//   - messages outside the open conversation are dropped
//   - everything else is inserted into the local set
//
// A malformed frame never ends the stream.
//
// # Reconnection
//
// When the stream ends or fails the controller waits one backoff delay
// (3s by default) and reconnects with a freshly fetched token. Close
// cancels a pending delay so no further attempt is made.
//
// # Usage
//
//	api := client.NewClient("http://localhost:8080", tokens, nil)
//	c := client.NewChat(api, selfID, client.ChatOptions{})
//	if err := c.Open(ctx, peerID); err != nil {
//		return err
//	}
//	go c.Run(ctx)
//	defer c.Close()
package client
