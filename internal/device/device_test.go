package device

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snapetech/hdhrbridge/internal/hdhomerun"
)

// fakeDiscoverer replays a scripted sequence of discovery results.
type fakeDiscoverer struct {
	rounds  [][]*hdhomerun.DiscoverReply
	targets []string
	calls   int
}

func (f *fakeDiscoverer) Discover(ctx context.Context, targets []string, max int) ([]*hdhomerun.DiscoverReply, error) {
	f.targets = append([]string(nil), targets...)
	round := f.rounds[0]
	if len(f.rounds) > 1 {
		f.rounds = f.rounds[1:]
	}
	f.calls++
	if len(round) > max {
		round = round[:max]
	}
	return round, nil
}

func reply(id uint32, addr string) *hdhomerun.DiscoverReply {
	return &hdhomerun.DiscoverReply{
		DeviceID:   id,
		DeviceType: hdhomerun.DeviceTypeTuner,
		Addr:       addr,
		BaseURL:    "http://" + addr,
		LineupURL:  "http://" + addr + "/lineup.json",
		TunerCount: 2,
	}
}

func TestRescan_addsAndKeepsDevices(t *testing.T) {
	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{
		{reply(0x10A01234, "10.0.0.5"), reply(0x10A05678, "10.0.0.6")},
	}}
	dir := NewDirectory(disc, nil)

	added, removed, err := dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(added) != 2 || len(removed) != 0 {
		t.Fatalf("added = %d, removed = %d", len(added), len(removed))
	}

	// Re-running with the same fleet changes nothing.
	added, removed, err = dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("second pass added = %d, removed = %d", len(added), len(removed))
	}
	if got := dir.Devices(); len(got) != 2 || got[0].ID != 0x10A01234 {
		t.Fatalf("devices = %+v", got)
	}
}

func TestRescan_updatesAddressInPlace(t *testing.T) {
	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{
		{reply(0x10A01234, "10.0.0.5")},
		{reply(0x10A01234, "10.0.0.99")},
	}}
	dir := NewDirectory(disc, nil)

	dir.Rescan(context.Background(), false)
	added, removed, err := dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("address change must not recreate the device: added = %d, removed = %d", len(added), len(removed))
	}
	dev, ok := dir.Get(0x10A01234)
	if !ok || dev.Addr != "10.0.0.99" || dev.BaseURL != "http://10.0.0.99" {
		t.Fatalf("device = %+v", dev)
	}
}

func TestRescan_shrunkFleetRemovesAndCascades(t *testing.T) {
	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{
		{reply(1, "10.0.0.5"), reply(2, "10.0.0.6")},
		{reply(1, "10.0.0.5")},
	}}
	dir := NewDirectory(disc, nil)
	var dropped []uint32
	dir.OnRemove = func(d Device) { dropped = append(dropped, d.ID) }

	dir.Rescan(context.Background(), false)
	_, removed, err := dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != 2 {
		t.Fatalf("removed = %+v", removed)
	}
	if len(dropped) != 1 || dropped[0] != 2 {
		t.Fatalf("OnRemove saw %v", dropped)
	}
	if len(dir.Devices()) != 1 {
		t.Fatalf("devices = %+v", dir.Devices())
	}
}

func TestRescan_emptyResultKeepsTable(t *testing.T) {
	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{
		{reply(1, "10.0.0.5")},
		nil,
	}}
	dir := NewDirectory(disc, nil)

	dir.Rescan(context.Background(), false)
	added, removed, err := dir.Rescan(context.Background(), true)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("empty pass must leave the table alone: added = %d, removed = %d", len(added), len(removed))
	}
	if len(dir.Devices()) != 1 {
		t.Fatalf("devices = %+v", dir.Devices())
	}
}

func TestRescan_capsFleetSize(t *testing.T) {
	var round []*hdhomerun.DiscoverReply
	for i := 0; i < 20; i++ {
		round = append(round, reply(uint32(i+1), fmt.Sprintf("10.0.0.%d", i+1)))
	}
	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{round}}
	dir := NewDirectory(disc, nil)

	added, _, err := dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(added) != 16 || len(dir.Devices()) != 16 {
		t.Fatalf("added = %d, tracked = %d, want 16", len(added), len(dir.Devices()))
	}
}

func TestDirectoryTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"DeviceID":"10A01234","LocalIP":"10.0.0.5"},
			{"LocalIP":"10.0.0.7"},
			{"DeviceID":"10A05678","LocalIP":"10.0.0.6"}]`)
	}))
	defer srv.Close()

	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{nil}}
	dir := NewDirectory(disc, srv.Client())
	dir.HTTPDiscovery = true
	dir.DirectoryURL = srv.URL

	dir.Rescan(context.Background(), false)
	if len(disc.targets) != 2 || disc.targets[0] != "10.0.0.5" || disc.targets[1] != "10.0.0.6" {
		t.Fatalf("targets = %v, want the two tuner IPs", disc.targets)
	}
}

func TestDirectoryTargets_lookupFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	disc := &fakeDiscoverer{rounds: [][]*hdhomerun.DiscoverReply{{reply(1, "10.0.0.5")}}}
	dir := NewDirectory(disc, srv.Client())
	dir.HTTPDiscovery = true
	dir.DirectoryURL = srv.URL

	added, _, err := dir.Rescan(context.Background(), false)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(disc.targets) != 0 {
		t.Fatalf("targets = %v, want none after lookup failure", disc.targets)
	}
	if len(added) != 1 {
		t.Fatalf("broadcast result ignored: added = %d", len(added))
	}
}
