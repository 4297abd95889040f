package util

import "net"

// StripPort removes a trailing ":port" from a host string, leaving IPv6
// literals (e.g. "[::1]") and bare hostnames untouched. Used before every
// HostMap lookup, per the gateway's port-stripping policy.
func StripPort(host string) string {
	if host == "" {
		return host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// StripPortAddr extracts the host portion of a dialed/remote address,
// dropping the port, for use in Forwarded header construction.
func StripPortAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
