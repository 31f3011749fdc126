package guide

import (
	"fmt"
	"time"
)

// DVB EPG content masks, as hosts expect them on guide entries.
const (
	GenreMovieDrama = 0x10
	GenreNews       = 0x20
	GenreShow       = 0x30
	GenreSports     = 0x40
	GenreChildren   = 0x50
	GenreLeisure    = 0xA0
)

// Entry is one program in a channel's guide timeline. Equality is
// full-field; ordering inside a channel is by start time only.
type Entry struct {
	Start         time.Time
	End           time.Time
	OriginalAir   time.Time
	Title         string
	EpisodeNumber string
	EpisodeTitle  string
	Synopsis      string
	ImageURL      string
	SeriesID      string
	GenreMask     uint32
	Season        int
	Episode       int

	// Seq is assigned on first insertion, unique and monotonically
	// increasing per channel, and never reused, so host-side EPG
	// identifiers stay stable across refreshes.
	Seq uint64
}

// sameFields reports full-field equality ignoring Seq.
func (e *Entry) sameFields(o *Entry) bool {
	return e.Start.Equal(o.Start) && e.End.Equal(o.End) &&
		e.OriginalAir.Equal(o.OriginalAir) &&
		e.Title == o.Title && e.EpisodeNumber == o.EpisodeNumber &&
		e.EpisodeTitle == o.EpisodeTitle && e.Synopsis == o.Synopsis &&
		e.ImageURL == o.ImageURL && e.SeriesID == o.SeriesID &&
		e.GenreMask == o.GenreMask
}

// GenreMaskFor maps provider filter strings to a DVB content mask. The last
// recognised string wins, matching how hosts read a single mask per entry.
func GenreMaskFor(filters []string) uint32 {
	var mask uint32
	for _, s := range filters {
		switch s {
		case "News":
			mask = GenreNews
		case "Comedy", "Talk Show", "Game Show":
			mask = GenreShow
		case "Kids":
			mask = GenreChildren
		case "Movie", "Movies", "Drama":
			mask = GenreMovieDrama
		case "Food":
			mask = GenreLeisure
		case "Sport", "Sports":
			mask = GenreSports
		}
	}
	return mask
}

// ParseEpisode extracts season/episode numbers from the provider's episode
// string. Recognised shapes: "S2E13", "EP4-7", "EP12" (episode only), and
// zero-based xmltv "1.12." (season.episode.part, part ignored). Unknown
// shapes return (0, 0).
func ParseEpisode(s string) (season, episode int) {
	if s == "" {
		return 0, 0
	}
	if n, _ := fmt.Sscanf(s, "S%dE%d", &season, &episode); n == 2 {
		return season, episode
	}
	season, episode = 0, 0
	if n, _ := fmt.Sscanf(s, "EP%d-%d", &season, &episode); n == 2 {
		return season, episode
	}
	season, episode = 0, 0
	if n, _ := fmt.Sscanf(s, "EP%d", &episode); n == 1 {
		return 0, episode
	}
	season, episode = 0, 0
	if n, _ := fmt.Sscanf(s, "%d.%d.", &season, &episode); n == 2 {
		// xmltv numbering starts at zero
		return season + 1, episode + 1
	}
	return 0, 0
}

// markNewWindow is how close to first airing a showing still counts as new.
const markNewWindow = 48 * time.Hour

// MarkNewTitle prefixes "*" on titles first aired within 48h of the
// showing, so hosts render new episodes distinctly.
func MarkNewTitle(title string, originalAir, start time.Time) string {
	if !originalAir.IsZero() && originalAir.Add(markNewWindow).After(start) {
		return "*" + title
	}
	return title
}
