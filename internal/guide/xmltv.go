package guide

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/httpclient"
)

// XMLTVSource fetches an external XMLTV feed and maps it into channel
// guide blocks. The feed is device-independent, so the parsed result is
// cached for CacheTTL (default 10m) and shared across devices.
type XMLTVSource struct {
	URL      string
	Client   *http.Client
	Timeout  time.Duration
	CacheTTL time.Duration

	mu       sync.Mutex
	cached   []ChannelBlock
	cacheExp time.Time
}

const xmltvTimeLayout = "20060102150405 -0700"

func (x *XMLTVSource) Fetch(ctx context.Context, _ *device.Device) ([]ChannelBlock, error) {
	ttl := x.CacheTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cached != nil && time.Now().Before(x.cacheExp) {
		return x.cached, nil
	}

	client := x.Client
	if client == nil {
		timeout := x.Timeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		client = httpclient.WithTimeout(timeout)
	}
	raw, err := httpclient.FetchBytes(ctx, client, x.URL)
	if err != nil {
		return nil, err
	}
	if raw, err = inflateIfGzip(raw); err != nil {
		return nil, fmt.Errorf("decompress %s: %w", x.URL, err)
	}
	blocks, err := parseXMLTV(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", x.URL, err)
	}
	x.cached = blocks
	x.cacheExp = time.Now().Add(ttl)
	return blocks, nil
}

// inflateIfGzip decompresses the payload when it carries the gzip magic.
// XMLTV feeds are commonly published as static .xml.gz files, served
// without a Content-Encoding header.
func inflateIfGzip(raw []byte) ([]byte, error) {
	if len(raw) < 3 || raw[0] != 0x1F || raw[1] != 0x8B || raw[2] != 0x08 {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, httpclient.MaxBodyBytes))
}

type xmltvDoc struct {
	XMLName    xml.Name         `xml:"tv"`
	Channels   []xmltvChannel   `xml:"channel"`
	Programmes []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID      string   `xml:"id,attr"`
	Display []string `xml:"display-name"`
	Icon    struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
}

type xmltvProgramme struct {
	Start    string   `xml:"start,attr"`
	Stop     string   `xml:"stop,attr"`
	Channel  string   `xml:"channel,attr"`
	Title    string   `xml:"title"`
	SubTitle string   `xml:"sub-title"`
	Desc     string   `xml:"desc"`
	Category []string `xml:"category"`
	Episode  []struct {
		System string `xml:"system,attr"`
		Value  string `xml:",chardata"`
	} `xml:"episode-num"`
	Icon struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	PrevShown *struct {
		Start string `xml:"start,attr"`
	} `xml:"previously-shown"`
}

// parseXMLTV converts an XMLTV document into per-channel blocks. Channel
// ids in the feed are the guide numbers; programmes referencing unknown
// channels or with unparseable times are dropped.
func parseXMLTV(raw []byte) ([]ChannelBlock, error) {
	var doc xmltvDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	byID := make(map[string]*ChannelBlock, len(doc.Channels))
	blocks := make([]ChannelBlock, 0, len(doc.Channels))
	for _, ch := range doc.Channels {
		id := strings.TrimSpace(ch.ID)
		if id == "" {
			continue
		}
		if _, ok := byID[id]; ok {
			continue
		}
		b := ChannelBlock{GuideNumber: id, ImageURL: ch.Icon.Src}
		if len(ch.Display) > 0 {
			b.GuideName = strings.TrimSpace(ch.Display[0])
		}
		blocks = append(blocks, b)
		byID[id] = &blocks[len(blocks)-1]
	}

	for _, p := range doc.Programmes {
		b, ok := byID[strings.TrimSpace(p.Channel)]
		if !ok {
			continue
		}
		start, err := time.Parse(xmltvTimeLayout, p.Start)
		if err != nil {
			continue
		}
		stop, err := time.Parse(xmltvTimeLayout, p.Stop)
		if err != nil {
			continue
		}
		w := wireEntry{
			StartTime:     start.Unix(),
			EndTime:       stop.Unix(),
			Title:         strings.TrimSpace(p.Title),
			EpisodeTitle:  strings.TrimSpace(p.SubTitle),
			Synopsis:      strings.TrimSpace(p.Desc),
			ImageURL:      p.Icon.Src,
			EpisodeNumber: episodeNumberFrom(p.Episode),
			Filter:        p.Category,
		}
		if p.PrevShown != nil {
			if aired, err := time.Parse(xmltvTimeLayout, p.PrevShown.Start); err == nil {
				w.OriginalAirdate = aired.Unix()
			}
		}
		b.Guide = append(b.Guide, w)
	}
	return blocks, nil
}

// episodeNumberFrom prefers the onscreen form (SxxEyy); the xmltv_ns form
// is passed through as its zero-based "season.episode." digits.
func episodeNumberFrom(nums []struct {
	System string `xml:"system,attr"`
	Value  string `xml:",chardata"`
}) string {
	var ns string
	for _, n := range nums {
		v := strings.TrimSpace(n.Value)
		switch n.System {
		case "onscreen":
			if v != "" {
				return v
			}
		case "xmltv_ns":
			if ns == "" {
				ns = strings.ReplaceAll(v, " ", "")
			}
		}
	}
	return ns
}
