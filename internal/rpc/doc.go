// Package rpc carries JSON-RPC 2.0 requests between an application and its
// host.
//
// A Messenger offers three interaction shapes:
//
//	Send                     fire and forget
//	SendAndObserveResponse   first response to the request
//	SendAndObserveResponses  every response to the request until cancelled
//
// Client implements Messenger over a websocket connection. Responses are
// matched to requests by id; ids are UUIDv7 so they sort by creation time in
// host logs.
package rpc
