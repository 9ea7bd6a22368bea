// Package netcache keeps the network settings pushed by the VPN server:
// the last tunnel gateway and the last DNS server list.
//
// The in-memory caches satisfy the management client's GatewayCache and
// DNSServerCache interfaces. When a Store is attached they also persist
// every update to a small sqlite database so the values survive a restart,
// which lets the health checker and the restore command work on the
// settings of the previous run.
package netcache
