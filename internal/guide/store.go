package guide

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/lineup"
	"github.com/snapetech/hdhrbridge/internal/metrics"
)

// DefaultRetention is how long finished programs stay in the guide.
const DefaultRetention = 24 * time.Hour

// Channel holds one channel's guide: affiliate metadata plus the ordered,
// deduplicated entry timeline.
type Channel struct {
	Number    lineup.GuideNumber
	Name      string
	Affiliate string
	IconURL   string

	entries []*Entry // sorted by Start
	nextSeq uint64
}

// ChannelMeta is the copy of channel-level guide metadata handed out to
// callers.
type ChannelMeta struct {
	Number    lineup.GuideNumber
	Name      string
	Affiliate string
	IconURL   string
	Entries   int
}

// Store owns the guide tables.
type Store struct {
	Retention time.Duration
	MarkNew   bool

	now func() time.Time

	mu       sync.Mutex
	channels map[lineup.GuideNumber]*Channel
}

func NewStore() *Store {
	return &Store{
		Retention: DefaultRetention,
		now:       time.Now,
		channels:  make(map[lineup.GuideNumber]*Channel),
	}
}

// Refresh fetches the guide feed of every device in the covering set and
// merges it. One device failing degrades gracefully: its channels keep
// stale data until the next cycle. An aging pass runs at the end.
func (s *Store) Refresh(ctx context.Context, src Source, covering []device.Device) {
	for i := range covering {
		blocks, err := src.Fetch(ctx, &covering[i])
		if err != nil {
			log.Printf("guide: device %08X: %v (keeping stale data this cycle)", covering[i].ID, err)
			continue
		}
		s.mergeBlocks(blocks)
	}
	aged := s.Age()
	if aged > 0 {
		log.Printf("guide: aged out %d entries", aged)
	}
}

func (s *Store) mergeBlocks(blocks []ChannelBlock) {
	inserted := 0
	for _, b := range blocks {
		gn, err := lineup.ParseGuideNumber(b.GuideNumber)
		if err != nil {
			log.Printf("guide: %v", err)
			continue
		}
		for _, w := range b.Guide {
			e := w.toEntry()
			if s.MarkNew {
				e.Title = MarkNewTitle(e.Title, e.OriginalAir, e.Start)
			}
			if s.Insert(gn, b.GuideName, b.Affiliate, b.ImageURL, e) {
				inserted++
			}
		}
	}
	if inserted > 0 {
		metrics.GuideEntriesInserted.Add(float64(inserted))
	}
}

// Insert adds one entry to a channel's timeline, creating the channel on
// first sight. The insert is idempotent on the ordering key: an entry whose
// start time is already present is a no-op and the original keeps its
// sequence id (keep-first). A dropped entry whose other fields differ is a
// start-time collision, counted rather than silently merged.
func (s *Store) Insert(gn lineup.GuideNumber, name, affiliate, icon string, e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[gn]
	if !ok {
		ch = &Channel{Number: gn, Name: name, Affiliate: affiliate, IconURL: icon, nextSeq: 1}
		s.channels[gn] = ch
	} else {
		// Affiliate/icon may arrive only with guide data; fill once.
		if ch.Affiliate == "" {
			ch.Affiliate = affiliate
		}
		if ch.IconURL == "" {
			ch.IconURL = icon
		}
	}

	i := sort.Search(len(ch.entries), func(i int) bool {
		return !ch.entries[i].Start.Before(e.Start)
	})
	if i < len(ch.entries) && ch.entries[i].Start.Equal(e.Start) {
		if !ch.entries[i].sameFields(&e) {
			metrics.GuideCollisions.Inc()
		}
		return false
	}
	e.Seq = ch.nextSeq
	ch.nextSeq++
	ch.entries = append(ch.entries, nil)
	copy(ch.entries[i+1:], ch.entries[i:])
	ch.entries[i] = &e
	return true
}

// seqCounter reports the channel's next sequence id, for snapshotting.
// Persisting the counter itself (not just the surviving entries' ids)
// keeps ids of already aged-out entries retired across a restart.
func (s *Store) seqCounter(gn lineup.GuideNumber) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[gn]; ok {
		return ch.nextSeq
	}
	return 1
}

// restoreChannel recreates a channel from a snapshot with its persisted
// sequence counter.
func (s *Store) restoreChannel(gn lineup.GuideNumber, name, affiliate, icon string, nextSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[gn]
	if !ok {
		ch = &Channel{Number: gn, Name: name, Affiliate: affiliate, IconURL: icon, nextSeq: 1}
		s.channels[gn] = ch
	}
	if nextSeq > ch.nextSeq {
		ch.nextSeq = nextSeq
	}
}

// restore inserts a snapshot entry keeping its persisted sequence id; a
// sequence id handed out before a restart must never come back attached
// to a different programme. Requires the channel to exist already.
func (s *Store) restore(gn lineup.GuideNumber, e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[gn]
	if !ok {
		return false
	}
	if e.Seq >= ch.nextSeq {
		ch.nextSeq = e.Seq + 1
	}
	i := sort.Search(len(ch.entries), func(i int) bool {
		return !ch.entries[i].Start.Before(e.Start)
	})
	if i < len(ch.entries) && ch.entries[i].Start.Equal(e.Start) {
		return false
	}
	ch.entries = append(ch.entries, nil)
	copy(ch.entries[i+1:], ch.entries[i:])
	ch.entries[i] = &e
	return true
}

// Age removes entries that ended more than the retention window ago and
// returns how many were dropped. Sequence counters are never rewound.
func (s *Store) Age() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.Retention)
	dropped := 0
	for _, ch := range s.channels {
		keep := ch.entries[:0]
		for _, e := range ch.entries {
			if e.End.Before(cutoff) {
				dropped++
				continue
			}
			keep = append(keep, e)
		}
		for i := len(keep); i < len(ch.entries); i++ {
			ch.entries[i] = nil
		}
		ch.entries = keep
	}
	if dropped > 0 {
		metrics.GuideEntriesAged.Add(float64(dropped))
	}
	return dropped
}

// RemoveChannels deletes guide data for channels dropped from the lineup,
// so a channel never exists in the guide without a serving device.
func (s *Store) RemoveChannels(gns []lineup.GuideNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gn := range gns {
		delete(s.channels, gn)
	}
}

// EntriesBetween returns copies of a channel's entries overlapping
// [start, end), in start order.
func (s *Store) EntriesBetween(id uint32, start, end time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[lineup.FromID(id)]
	if !ok {
		return nil
	}
	var out []Entry
	for _, e := range ch.entries {
		if !e.End.After(start) || !e.Start.Before(end) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// EntryAt returns the entry airing on the channel at t, for metadata
// snapshots when a recording starts or completes.
func (s *Store) EntryAt(id uint32, t time.Time) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[lineup.FromID(id)]
	if !ok {
		return Entry{}, false
	}
	for _, e := range ch.entries {
		if !e.Start.After(t) && e.End.After(t) {
			return *e, true
		}
	}
	return Entry{}, false
}

// Meta returns one channel's metadata by dense id.
func (s *Store) Meta(id uint32) (ChannelMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[lineup.FromID(id)]
	if !ok {
		return ChannelMeta{}, false
	}
	return ChannelMeta{
		Number:    ch.Number,
		Name:      ch.Name,
		Affiliate: ch.Affiliate,
		IconURL:   ch.IconURL,
		Entries:   len(ch.entries),
	}, true
}

// Channels returns channel-level metadata sorted by guide number.
func (s *Store) Channels() []ChannelMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelMeta, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ChannelMeta{
			Number:    ch.Number,
			Name:      ch.Name,
			Affiliate: ch.Affiliate,
			IconURL:   ch.IconURL,
			Entries:   len(ch.entries),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number.Less(out[j].Number) })
	return out
}
