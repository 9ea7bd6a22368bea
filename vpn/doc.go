// Package vpn provides VPN connection management functionality for vpnctl.
//
// This package implements the core VPN functionality including:
//
//   - Profile management: Creating, updating, and deleting VPN profiles
//   - Connection management: Launching OpenVPN and driving it through its
//     management interface
//   - Split tunneling: Routing specific traffic through or around the VPN
//   - Health checking: Probing the tunnel and reconnecting when it fails
//
// # Architecture
//
// The package is organized around three main types:
//
//   - Manager: Orchestrates VPN connections and maintains connection state
//   - ProfileManager: Handles persistence and management of VPN profiles
//   - Connection: Represents an active VPN connection with its process and state
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. The CLI resolves a profile and its credentials
//  2. Manager.Connect() starts OpenVPN held on --management-hold
//  3. The Manager opens the management interface and starts a session
//     with a management.Client
//  4. The session releases the hold, answers credential prompts and
//     publishes status and traffic
//  5. Once connected, pushed DNS servers are applied to the tunnel link
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The Manager
// uses internal locking to protect shared state.
package vpn
