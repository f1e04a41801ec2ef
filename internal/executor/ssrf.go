package executor

import (
	"fmt"
	"net"
	"syscall"
)

// blockedHost reports whether ip (already resolved from a DNS name by the
// dialer) falls in a range the HTTP executor must never reach: loopback,
// RFC1918 private space, link-local, and the ranges every SSRF checklist
// singles out. Checked at dial-Control time, after DNS resolution, so a
// hostname that resolves to one of these ranges is rejected the same as a
// literal IP would be — DNS rebinding cannot bypass it.
func blockedHost(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"127.0.0.0/8",
		"fc00::/7",
		"fe80::/10",
		"::1/128",
	}
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// dialControl is installed as net.Dialer.Control on the HTTP executor's
// transport. network/address are the already-resolved values the runtime
// is about to connect to; rejecting here runs after DNS resolution, so
// this is the point that actually prevents SSRF via DNS rebinding rather
// than just checking the literal host string before a lookup.
func dialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("blocked: invalid dial address %q", address)
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked: metadata endpoint %q", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("blocked: dial address %q did not resolve to an IP", address)
	}
	if ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return fmt.Errorf("blocked: %s is the cloud metadata endpoint", ip)
	}
	if blockedHost(ip) {
		return fmt.Errorf("blocked: destination %s is in a disallowed range", ip)
	}
	return nil
}
