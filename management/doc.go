// Package management implements the client side of the OpenVPN management
// interface, the line based control channel exposed by the tunnel engine
// process on a loopback socket.
//
// The package is layered leaves first:
//
//   - Channel: the transport (open, read one line, write one line, close)
//   - Classify: turns one received line into a typed Message
//   - Command builders: the fixed set of outbound commands
//   - ExtractGateway / ExtractDNSServers: network settings embedded in
//     pushed control messages
//   - Client: the session orchestrator that drives the handshake, answers
//     credential prompts, publishes normalized Status and TrafficSample
//     events and manages shutdown
//
// # Handshake
//
// The engine is started with --management-hold. Once it reports that it is
// waiting for hold release the client enables, one acknowledgement at a
// time, echo, state, bytecount and log notifications, and finally releases
// the hold:
//
//	>HOLD:Waiting for hold release          -> echo on all
//	SUCCESS: real-time echo ...             -> state on
//	SUCCESS: real-time state ...            -> bytecount 1
//	SUCCESS: bytecount interval changed     -> log on
//	SUCCESS: real-time log ...              -> hold release
//
// # Concurrency
//
// A Client runs at most one session at a time. Everything a session does
// happens on the goroutine that called StartSession, except
// RequestDisconnect and Shutdown which may be called from anywhere.
package management
