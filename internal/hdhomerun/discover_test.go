package hdhomerun

import (
	"context"
	"net"
	"testing"
	"time"
)

// fakeDevice answers discover requests on a loopback UDP socket.
func fakeDevice(t *testing.T, reply *DiscoverReply) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pkt, err := Unmarshal(buf[:n])
			if err != nil || pkt.Type != TypeDiscoverReq {
				continue
			}
			conn.WriteToUDP(NewDiscoverRpy(reply).Marshal(), from)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestDiscover_directedTarget(t *testing.T) {
	port := fakeDevice(t, &DiscoverReply{
		DeviceID:   0x10203040,
		DeviceType: DeviceTypeTuner,
		TunerCount: 2,
		DeviceAuth: "tok",
	})

	c := &Client{Port: port}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	found, err := c.Discover(ctx, []string{"127.0.0.1"}, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d devices, want 1", len(found))
	}
	d := found[0]
	if d.DeviceID != 0x10203040 || d.TunerCount != 2 || d.DeviceAuth != "tok" {
		t.Errorf("reply = %+v", d)
	}
	if d.Addr != "127.0.0.1" {
		t.Errorf("Addr = %q", d.Addr)
	}
	if d.BaseURL != "http://127.0.0.1" {
		t.Errorf("BaseURL fallback = %q", d.BaseURL)
	}
}

func TestDiscover_badTargetSkipped(t *testing.T) {
	c := &Client{Port: 1} // nothing listens; only the parse path matters
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	found, err := c.Discover(ctx, []string{"not-an-ip"}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 0 {
		t.Errorf("found %d devices from nothing", len(found))
	}
}
