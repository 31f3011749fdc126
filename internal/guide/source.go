package guide

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/httpclient"
	"github.com/snapetech/hdhrbridge/internal/safeurl"
)

// ChannelBlock is one channel's slice of a guide feed, in the provider's
// wire shape.
type ChannelBlock struct {
	GuideNumber string      `json:"GuideNumber"`
	GuideName   string      `json:"GuideName"`
	Affiliate   string      `json:"Affiliate"`
	ImageURL    string      `json:"ImageURL"`
	Guide       []wireEntry `json:"Guide"`
}

type wireEntry struct {
	StartTime       int64    `json:"StartTime"`
	EndTime         int64    `json:"EndTime"`
	Title           string   `json:"Title"`
	EpisodeNumber   string   `json:"EpisodeNumber"`
	EpisodeTitle    string   `json:"EpisodeTitle"`
	Synopsis        string   `json:"Synopsis"`
	ImageURL        string   `json:"ImageURL"`
	SeriesID        string   `json:"SeriesID"`
	OriginalAirdate int64    `json:"OriginalAirdate"`
	Filter          []string `json:"Filter"`
}

func (w *wireEntry) toEntry() Entry {
	season, episode := ParseEpisode(w.EpisodeNumber)
	e := Entry{
		Start:         time.Unix(w.StartTime, 0).UTC(),
		End:           time.Unix(w.EndTime, 0).UTC(),
		Title:         w.Title,
		EpisodeNumber: w.EpisodeNumber,
		EpisodeTitle:  w.EpisodeTitle,
		Synopsis:      w.Synopsis,
		ImageURL:      w.ImageURL,
		SeriesID:      w.SeriesID,
		GenreMask:     GenreMaskFor(w.Filter),
		Season:        season,
		Episode:       episode,
	}
	if w.OriginalAirdate != 0 {
		e.OriginalAir = time.Unix(w.OriginalAirdate, 0).UTC()
	}
	return e
}

// Source fetches guide data for one device. Selected by configuration at
// startup: the provider's guide API ("SD") or an external XMLTV feed.
type Source interface {
	Fetch(ctx context.Context, dev *device.Device) ([]ChannelBlock, error)
}

// DefaultGuideAPIURL is the provider's guide endpoint, authenticated by each
// device's session auth token.
const DefaultGuideAPIURL = "https://my.hdhomerun.com/api/guide.php"

// SDSource fetches the provider guide API. With Advanced set, each
// channel's timeline is extended past the basic window by paging
// Channel/Start queries until the API answers null.
type SDSource struct {
	APIURL   string // defaults to DefaultGuideAPIURL
	Client   *http.Client
	Advanced bool
}

func (s *SDSource) Fetch(ctx context.Context, dev *device.Device) ([]ChannelBlock, error) {
	if dev.DeviceAuth == "" {
		return nil, fmt.Errorf("device %08X has no auth token", dev.ID)
	}
	base := s.APIURL
	if base == "" {
		base = DefaultGuideAPIURL
	}
	client := s.Client
	if client == nil {
		client = httpclient.Default()
	}
	guideURL := base + "?DeviceAuth=" + url.QueryEscape(dev.DeviceAuth)

	if err := httpclient.GuideLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	var blocks []ChannelBlock
	if err := httpclient.FetchJSON(ctx, client, guideURL, &blocks); err != nil {
		return nil, fmt.Errorf("guide %s: %w", safeurl.Redact(guideURL), err)
	}
	if s.Advanced {
		for i := range blocks {
			s.extend(ctx, client, guideURL, &blocks[i])
		}
	}
	return blocks, nil
}

// extend pages one channel's guide forward from its last end time. Paging
// errors leave the basic window in place; they never fail the fetch.
func (s *SDSource) extend(ctx context.Context, client *http.Client, guideURL string, b *ChannelBlock) {
	for {
		last := lastEndTime(b.Guide)
		if last == 0 {
			return
		}
		pageURL := fmt.Sprintf("%s&Channel=%s&Start=%d", guideURL, url.QueryEscape(b.GuideNumber), last)
		if err := httpclient.GuideLimiter.Wait(ctx); err != nil {
			return
		}
		raw, err := httpclient.FetchBytes(ctx, client, pageURL)
		if err != nil {
			log.Printf("guide: extended page for %s: %v", b.GuideNumber, err)
			return
		}
		// The API signals the end of the timeline with a bare null.
		if strings.HasPrefix(strings.TrimSpace(string(raw)), "null") {
			return
		}
		var page []ChannelBlock
		if err := json.Unmarshal(raw, &page); err != nil || len(page) == 0 || len(page[0].Guide) == 0 {
			return
		}
		b.Guide = append(b.Guide, page[0].Guide...)
	}
}

func lastEndTime(entries []wireEntry) int64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].EndTime
}
