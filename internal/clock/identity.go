package clock

import (
	"net"
	"os"
)

// Identity holds the host facts resolved once at startup: hostname and
// the primary outbound IPv4 address, used to stamp HQ reports and the
// daemon's own log lines.
type Identity struct {
	Hostname string
	IPv4     string
}

// ResolveIdentity determines the local hostname and primary IPv4 address.
// It dials a well-known external address to let the kernel pick the
// outbound interface, without sending any packet (UDP "connect" only sets
// up local routing state).
func ResolveIdentity() (Identity, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	ipv4 := "0.0.0.0"
	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			ipv4 = addr.IP.String()
		}
	}

	return Identity{Hostname: hostname, IPv4: ipv4}, nil
}
