package lineup

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/httpclient"
	"github.com/snapetech/hdhrbridge/internal/safeurl"
)

// ErrNotFound reports a channel id with no serving device.
var ErrNotFound = errors.New("lineup: channel not found")

// ChannelInfo is the merged view of one channel across every device that
// can tune it. Devices are kept in discovery order; the cursor rotates
// stream resolution across them.
type ChannelInfo struct {
	Number   GuideNumber
	Name     string
	DRM      bool
	HD       bool
	Favorite bool

	devices []uint32          // capable device ids, insertion order
	urls    map[uint32]string // per-device stream URL
	cursor  int
}

// Snapshot is the copy of a channel handed across the repository boundary.
type Snapshot struct {
	Number   GuideNumber
	ID       uint32
	Name     string
	DRM      bool
	HD       bool
	Favorite bool
	Devices  []uint32
}

// lineupEntry matches one element of a device's lineup.json.
type lineupEntry struct {
	GuideNumber string  `json:"GuideNumber"`
	GuideName   string  `json:"GuideName"`
	URL         string  `json:"URL"`
	DRM         boolish `json:"DRM"`
	HD          boolish `json:"HD"`
	Favorite    boolish `json:"Favorite"`
}

// Index owns the channel table.
type Index struct {
	client *http.Client

	HideUnknown   bool
	HideProtected bool
	HideDuplicate bool
	UseLegacy     bool

	mu       sync.Mutex
	channels map[GuideNumber]*ChannelInfo
}

func NewIndex(client *http.Client) *Index {
	if client == nil {
		client = httpclient.Default()
	}
	return &Index{
		client:   client,
		channels: make(map[GuideNumber]*ChannelInfo),
	}
}

// Refresh fetches and merges every device's lineup. Per-device failures are
// logged and skipped; the remaining devices still merge.
func (x *Index) Refresh(ctx context.Context, devices []device.Device) {
	for i := range devices {
		if err := x.RefreshDevice(ctx, &devices[i]); err != nil {
			log.Printf("lineup: device %08X: %v (skipping this cycle)", devices[i].ID, err)
		}
	}
}

// RefreshDevice fetches one device's channel list and merges it. The first
// device reporting a channel sets its metadata; later devices only add
// themselves as capable and register their stream URL.
func (x *Index) RefreshDevice(ctx context.Context, dev *device.Device) error {
	url := dev.LineupURL
	if url == "" {
		if dev.Legacy && !x.UseLegacy {
			log.Printf("lineup: device %08X is legacy without a lineup URL; skipping", dev.ID)
			return nil
		}
		url = dev.BaseURL + "/lineup.json"
	}

	var entries []lineupEntry
	if err := httpclient.FetchJSON(ctx, x.client, url, &entries); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	seen := make(map[GuideNumber]bool, len(entries))
	merged := 0
	for _, e := range entries {
		gn, err := ParseGuideNumber(e.GuideNumber)
		if err != nil {
			log.Printf("lineup: device %08X: %v", dev.ID, err)
			continue
		}
		if x.HideUnknown && e.GuideName == "Unknown" {
			continue
		}
		if x.HideProtected && bool(e.DRM) {
			continue
		}
		if x.HideDuplicate && seen[gn] {
			continue
		}
		if !safeurl.IsHTTPOrHTTPS(e.URL) {
			log.Printf("lineup: device %08X: channel %s has unusable stream URL %q", dev.ID, e.GuideNumber, e.URL)
			continue
		}
		seen[gn] = true

		ci, ok := x.channels[gn]
		if !ok {
			ci = &ChannelInfo{
				Number:   gn,
				Name:     e.GuideName,
				DRM:      bool(e.DRM),
				HD:       bool(e.HD),
				Favorite: bool(e.Favorite),
				urls:     make(map[uint32]string),
			}
			x.channels[gn] = ci
		}
		if _, capable := ci.urls[dev.ID]; !capable {
			ci.devices = append(ci.devices, dev.ID)
		}
		ci.urls[dev.ID] = e.URL
		merged++
	}
	log.Printf("lineup: device %08X reported %d channels (%d merged)", dev.ID, len(entries), merged)
	return nil
}

// ResolveStreamURL advances the channel's round-robin cursor and returns the
// next capable device's stream URL, spreading concurrent tuning load.
func (x *Index) ResolveStreamURL(id uint32) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ci, ok := x.channels[FromID(id)]
	if !ok || len(ci.devices) == 0 {
		return "", ErrNotFound
	}
	ci.cursor = ci.cursor % len(ci.devices)
	url := ci.urls[ci.devices[ci.cursor]]
	ci.cursor = (ci.cursor + 1) % len(ci.devices)
	return url, nil
}

// RemoveDevice drops the device from every capability set and deletes
// channels left with no serving device, returning those so the caller can
// delete the matching guide data in the same operation.
func (x *Index) RemoveDevice(id uint32) (emptied []GuideNumber) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for gn, ci := range x.channels {
		if _, ok := ci.urls[id]; !ok {
			continue
		}
		delete(ci.urls, id)
		for i, d := range ci.devices {
			if d == id {
				ci.devices = append(ci.devices[:i], ci.devices[i+1:]...)
				if ci.cursor >= len(ci.devices) {
					ci.cursor = 0
				}
				break
			}
		}
		if len(ci.devices) == 0 {
			delete(x.channels, gn)
			emptied = append(emptied, gn)
		}
	}
	return emptied
}

// Channels returns snapshot copies sorted by guide number.
func (x *Index) Channels() []Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Snapshot, 0, len(x.channels))
	for _, ci := range x.channels {
		out = append(out, Snapshot{
			Number:   ci.Number,
			ID:       ci.Number.ID(),
			Name:     ci.Name,
			DRM:      ci.DRM,
			HD:       ci.HD,
			Favorite: ci.Favorite,
			Devices:  append([]uint32(nil), ci.devices...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number.Less(out[j].Number) })
	return out
}

// Capabilities returns the channel→capable-device mapping the covering
// selector consumes.
func (x *Index) Capabilities() map[GuideNumber][]uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[GuideNumber][]uint32, len(x.channels))
	for gn, ci := range x.channels {
		out[gn] = append([]uint32(nil), ci.devices...)
	}
	return out
}

// Len reports the number of merged channels.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.channels)
}
