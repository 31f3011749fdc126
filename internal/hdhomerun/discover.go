package hdhomerun

import (
	"context"
	"log"
	"net"
	"time"
)

const (
	// DiscoverPort is the UDP port devices answer discovery on.
	DiscoverPort = 65001

	// BroadcastAddr reaches every device on the local segment.
	BroadcastAddr = "255.255.255.255"

	// replyWindow is how long we collect responses after sending requests.
	replyWindow = 2 * time.Second
)

// Discoverer finds tuner devices on the network. Implemented by Client;
// faked in tests and by the device directory's tests.
type Discoverer interface {
	Discover(ctx context.Context, targets []string, max int) ([]*DiscoverReply, error)
}

// Client performs UDP discovery from an ephemeral socket.
type Client struct {
	// Port overrides DiscoverPort, for tests against a loopback responder.
	Port int
}

// Discover broadcasts a tuner discover request, plus a directed request per
// target address, and collects replies until the window closes or max
// distinct devices answered. Duplicate replies (multi-homed hosts see the
// broadcast twice) are dropped by device id.
func (c *Client) Discover(ctx context.Context, targets []string, max int) ([]*DiscoverReply, error) {
	if max <= 0 {
		max = 16
	}
	port := c.Port
	if port == 0 {
		port = DiscoverPort
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := NewDiscoverReq(DeviceTypeTuner, DeviceIDWildcard).Marshal()
	dests := make([]*net.UDPAddr, 0, len(targets)+1)
	dests = append(dests, &net.UDPAddr{IP: net.ParseIP(BroadcastAddr), Port: port})
	for _, t := range targets {
		ip := net.ParseIP(t)
		if ip == nil {
			log.Printf("hdhomerun: discover: skipping bad target %q", t)
			continue
		}
		dests = append(dests, &net.UDPAddr{IP: ip, Port: port})
	}
	for _, d := range dests {
		if _, err := conn.WriteToUDP(req, d); err != nil {
			log.Printf("hdhomerun: discover: send to %s: %v", d, err)
		}
	}

	deadline := time.Now().Add(replyWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	seen := make(map[uint32]bool)
	var found []*DiscoverReply
	buf := make([]byte, 4096)
	for len(found) < max {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return found, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return found, err
		}
		if ctx.Err() != nil {
			break
		}
		pkt, err := Unmarshal(buf[:n])
		if err != nil {
			log.Printf("hdhomerun: discover: bad packet from %s: %v", from, err)
			continue
		}
		if pkt.Type != TypeDiscoverRpy {
			continue
		}
		reply, err := ParseDiscoverReply(pkt)
		if err != nil {
			log.Printf("hdhomerun: discover: reply from %s: %v", from, err)
			continue
		}
		if reply.DeviceType != DeviceTypeTuner || seen[reply.DeviceID] {
			continue
		}
		seen[reply.DeviceID] = true
		reply.Addr = from.IP.String()
		if reply.BaseURL == "" {
			reply.BaseURL = "http://" + from.IP.String()
		}
		found = append(found, reply)
	}
	return found, nil
}
