// Package common provides shared constants, types, utilities, and interfaces
// used throughout vpnctl.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: The connection status model, logging and notification abstractions
//   - Logger: Levelled logging with optional rotated file output
//   - Utils: Identifier generation and directory helpers
//
// # Usage
//
//	import "github.com/yllada/vpnctl/common"
//
//	// Use constants
//	timeout := common.ConnectionTimeout
//
//	// Use logger
//	common.LogInfo("Starting connection to %s", profileName)
//
//	// Check errors
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
