// Package gateway implements the WebSocket client for the agent gateway.
//
// # Overview
//
// The gateway is the remote service hosting the conversational agent. This
// package owns the single persistent connection to it: challenge/response
// authentication, request/response correlation over one multiplexed link,
// incremental streaming of agent replies, and automatic reconnection with
// a fixed delay.
//
// # Protocol
//
// Frames are JSON text messages typed "req", "res", or "event". Requests
// carry a correlation id; the matching response resolves the pending call.
// Agent replies stream in as "chat" events whose payload carries a state
// (delta, final, error, aborted) and a cumulative text snapshot; the
// Aggregator turns that sequence into one growing message.
//
// # Connection lifecycle
//
//	Disconnected -> Connecting -> AwaitingChallenge -> Authenticating -> Connected
//
// Any transport close or error returns the client to Disconnected, fails
// every outstanding call with ErrConnectionLost, aborts the open streaming
// message, and schedules a reconnect. The client reconnects indefinitely;
// it is a background service, not a one-shot dialer.
package gateway
