package mavlink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

// ParseEndpoint turns a "kind:address" string into a gomavlib endpoint.
//
//	udp-server:0.0.0.0:14550
//	udp-client:192.168.2.1:14550
//	udp-broadcast:192.168.2.255:14550
//	tcp-server:0.0.0.0:5760
//	tcp-client:127.0.0.1:5760
//	serial:/dev/ttyAMA0:921600
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	s = strings.TrimSpace(s)
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("mavlink: endpoint %q: want kind:address", s)
	}
	switch kind {
	case "udp-server":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udp-client":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "udp-broadcast":
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: addr}, nil
	case "tcp-server":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "tcp-client":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "serial":
		i := strings.LastIndex(addr, ":")
		if i <= 0 {
			return nil, fmt.Errorf("mavlink: endpoint %q: want serial:device:baud", s)
		}
		baud, err := strconv.Atoi(addr[i+1:])
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("mavlink: endpoint %q: invalid baud", s)
		}
		return gomavlib.EndpointSerial{Device: addr[:i], Baud: baud}, nil
	default:
		return nil, fmt.Errorf("mavlink: endpoint %q: unknown kind %q", s, kind)
	}
}
