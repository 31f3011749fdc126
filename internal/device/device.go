// Package device tracks the fleet of tuner devices across rescans.
package device

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/snapetech/hdhrbridge/internal/hdhomerun"
	"github.com/snapetech/hdhrbridge/internal/httpclient"
)

// DirectoryServiceURL is the provider's device registry. The provider may
// withdraw this endpoint without notice, so lookups against it are always
// best-effort and broadcast discovery remains the fallback.
const DirectoryServiceURL = "https://api.hdhomerun.com/discover"

// Device is one tracked tuner. Identity is the provider-assigned id; the
// address and URLs may churn between rescans and are updated in place so
// channel capability sets and stream URLs keyed by id survive.
type Device struct {
	ID           uint32
	Addr         string
	BaseURL      string
	LineupURL    string
	DeviceAuth   string
	TunerCount   int
	Legacy       bool
	DiscoveredAt time.Time
}

// Directory owns the device table. All reads return copies.
type Directory struct {
	disc   hdhomerun.Discoverer
	client *http.Client

	HTTPDiscovery bool
	DirectoryURL  string   // defaults to DirectoryServiceURL
	Targets       []string // extra unicast probe addresses from config
	MaxDevices    int

	// OnRemove runs for each device dropped from the directory, before
	// Rescan returns. The lineup uses it to cascade capability removal
	// and channel deletion in the same operation.
	OnRemove func(Device)

	now func() time.Time

	mu      sync.Mutex
	devices map[uint32]*Device
}

func NewDirectory(disc hdhomerun.Discoverer, client *http.Client) *Directory {
	if client == nil {
		client = httpclient.Default()
	}
	return &Directory{
		disc:         disc,
		client:       client,
		DirectoryURL: DirectoryServiceURL,
		MaxDevices:   16,
		now:          time.Now,
		devices:      make(map[uint32]*Device),
	}
}

// Rescan discovers the fleet and reconciles the table. full forces a clear
// and rebuild; otherwise a rebuild also happens when discovery reports
// fewer devices than currently tracked. Zero discovered devices is treated
// as a failed pass: the table is left untouched and retried next cycle.
func (d *Directory) Rescan(ctx context.Context, full bool) (added, removed []Device, err error) {
	targets := append([]string(nil), d.Targets...)
	if d.HTTPDiscovery {
		targets = append(targets, d.directoryTargets(ctx)...)
	}

	found, err := d.disc.Discover(ctx, targets, d.MaxDevices)
	if err != nil {
		return nil, nil, err
	}
	if len(found) == 0 {
		log.Printf("device: rescan found no devices; keeping %d tracked", d.count())
		return nil, nil, nil
	}

	d.mu.Lock()
	foundIDs := make(map[uint32]bool, len(found))
	for _, r := range found {
		foundIDs[r.DeviceID] = true
	}

	if full || len(found) < len(d.devices) {
		for id, dev := range d.devices {
			if !foundIDs[id] {
				removed = append(removed, *dev)
				delete(d.devices, id)
			}
		}
	}

	for _, r := range found {
		dev, ok := d.devices[r.DeviceID]
		if !ok {
			dev = &Device{ID: r.DeviceID, DiscoveredAt: d.now()}
			d.devices[r.DeviceID] = dev
		}
		// Update in place; a changed address must not recreate the device.
		dev.Addr = r.Addr
		dev.BaseURL = r.BaseURL
		dev.LineupURL = r.LineupURL
		dev.DeviceAuth = r.DeviceAuth
		dev.TunerCount = r.TunerCount
		dev.Legacy = r.Legacy
		if !ok {
			added = append(added, *dev)
		}
	}
	d.mu.Unlock()

	for _, dev := range removed {
		log.Printf("device: removed %08X (%s)", dev.ID, dev.Addr)
		if d.OnRemove != nil {
			d.OnRemove(dev)
		}
	}
	for _, dev := range added {
		log.Printf("device: added %08X (%s, %d tuners)", dev.ID, dev.Addr, dev.TunerCount)
	}
	return added, removed, nil
}

// directoryTargets asks the directory service for candidate device
// addresses. Every failure mode collapses to "no candidates".
func (d *Directory) directoryTargets(ctx context.Context) []string {
	url := d.DirectoryURL
	if url == "" {
		url = DirectoryServiceURL
	}
	var entries []struct {
		DeviceID string `json:"DeviceID"`
		LocalIP  string `json:"LocalIP"`
	}
	if err := httpclient.FetchJSON(ctx, d.client, url, &entries); err != nil {
		log.Printf("device: directory lookup failed: %v (falling back to broadcast)", err)
		return nil
	}
	var out []string
	for _, e := range entries {
		// Only entries with a DeviceID are tuners; storage-only units
		// report without one.
		if e.DeviceID != "" && e.LocalIP != "" {
			out = append(out, e.LocalIP)
		}
	}
	return out
}

// Devices returns a snapshot sorted by id.
func (d *Directory) Devices() []Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of the device with id.
func (d *Directory) Get(id uint32) (Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

func (d *Directory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}
