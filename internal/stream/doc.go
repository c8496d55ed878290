// Package stream implements the server side of the live message channel.
//
// Each authenticated user holds at most one open text/event-stream response.
// The Registry maps user ids to the Handle wrapping that response; the
// Server registers a handle when a client connects and removes it when the
// client goes away. Other components push frames by looking the recipient up
// in the Registry and calling Handle.Write.
//
// # Frames
//
//	event: connected\ndata: Connected to SSE endpoint\n\n
//	: heartbeat\n\n
//	data: {"_id":"...","text":"hi",...}\n\n
//	event: error\ndata: {"success":false,"message":"not authorized"}\n\n
//
// # Replacement
//
// Registering a second handle for the same user closes the first, which ends
// the older session. Unregister only removes the mapping when it still points
// at the caller's handle, so a late teardown never evicts the newer stream.
package stream
