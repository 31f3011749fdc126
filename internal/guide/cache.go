package guide

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snapetech/hdhrbridge/internal/lineup"
)

// SnapshotCache persists the guide store to a sqlite file so a restart
// does not begin with an empty timeline until the next refresh. A cache
// that cannot be opened or read is discarded and rebuilt.
type SnapshotCache struct {
	Path string
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS channels (
	id        INTEGER PRIMARY KEY,
	number    TEXT NOT NULL,
	name      TEXT,
	affiliate TEXT,
	icon_url  TEXT,
	next_seq  INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS entries (
	channel_id    INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	start_time    INTEGER NOT NULL,
	end_time      INTEGER NOT NULL,
	title         TEXT,
	episode_num   TEXT,
	episode_title TEXT,
	synopsis      TEXT,
	image_url     TEXT,
	series_id     TEXT,
	genre_mask    INTEGER,
	season        INTEGER,
	episode       INTEGER,
	original_air  INTEGER,
	PRIMARY KEY (channel_id, seq)
);
`

// Save rewrites the cache file with the store's current contents. The
// write goes to a temp file first so a crash never leaves a half-written
// database behind.
func (c *SnapshotCache) Save(st *Store) error {
	if c.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return err
	}
	tmp := c.Path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if err := c.write(db, st); err != nil {
		db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, c.Path)
}

func (c *SnapshotCache) write(db *sql.DB, st *Store) error {
	if _, err := db.Exec(snapshotSchema); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, meta := range st.Channels() {
		res, err := tx.Exec(`INSERT INTO channels (number, name, affiliate, icon_url, next_seq) VALUES (?, ?, ?, ?, ?)`,
			meta.Number.String(), meta.Name, meta.Affiliate, meta.IconURL, st.seqCounter(meta.Number))
		if err != nil {
			return err
		}
		chID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, e := range st.EntriesBetween(meta.Number.ID(), time.Time{}, maxSnapshotTime) {
			var air int64
			if !e.OriginalAir.IsZero() {
				air = e.OriginalAir.Unix()
			}
			_, err := tx.Exec(`INSERT INTO entries
				(channel_id, seq, start_time, end_time, title, episode_num, episode_title, synopsis, image_url, series_id, genre_mask, season, episode, original_air)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				chID, e.Seq, e.Start.Unix(), e.End.Unix(), e.Title, e.EpisodeNumber, e.EpisodeTitle,
				e.Synopsis, e.ImageURL, e.SeriesID, e.GenreMask, e.Season, e.Episode, air)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

var maxSnapshotTime = time.Unix(1<<40, 0)

// Load replays a previously saved snapshot into the store, channels with
// their sequence counters first, then entries under their persisted
// sequence ids. Any failure logs and returns with the store unchanged
// beyond what was already replayed; stale entries are aged out by the
// next refresh.
func (c *SnapshotCache) Load(st *Store) {
	if c.Path == "" {
		return
	}
	db, err := sql.Open("sqlite", c.Path)
	if err != nil {
		log.Printf("guide: snapshot cache unreadable, starting empty: %v", err)
		return
	}
	defer db.Close()

	chRows, err := db.Query(`SELECT number, name, affiliate, icon_url, next_seq FROM channels`)
	if err != nil {
		log.Printf("guide: snapshot cache unreadable, starting empty: %v", err)
		return
	}
	for chRows.Next() {
		var number, name, affiliate, icon string
		var nextSeq uint64
		if err := chRows.Scan(&number, &name, &affiliate, &icon, &nextSeq); err != nil {
			log.Printf("guide: snapshot channel skipped: %v", err)
			continue
		}
		gn, err := lineup.ParseGuideNumber(number)
		if err != nil {
			continue
		}
		st.restoreChannel(gn, name, affiliate, icon, nextSeq)
	}
	chRows.Close()

	rows, err := db.Query(`SELECT c.number, e.seq,
		e.start_time, e.end_time, e.title, e.episode_num, e.episode_title,
		e.synopsis, e.image_url, e.series_id, e.genre_mask, e.season, e.episode, e.original_air
		FROM entries e JOIN channels c ON c.id = e.channel_id
		ORDER BY c.id, e.seq`)
	if err != nil {
		log.Printf("guide: snapshot cache unreadable, starting empty: %v", err)
		return
	}
	defer rows.Close()

	var loaded int
	for rows.Next() {
		var number string
		var start, end, air int64
		var e Entry
		if err := rows.Scan(&number, &e.Seq,
			&start, &end, &e.Title, &e.EpisodeNumber, &e.EpisodeTitle,
			&e.Synopsis, &e.ImageURL, &e.SeriesID, &e.GenreMask, &e.Season, &e.Episode, &air); err != nil {
			log.Printf("guide: snapshot row skipped: %v", err)
			continue
		}
		gn, err := lineup.ParseGuideNumber(number)
		if err != nil {
			continue
		}
		e.Start = time.Unix(start, 0).UTC()
		e.End = time.Unix(end, 0).UTC()
		if air != 0 {
			e.OriginalAir = time.Unix(air, 0).UTC()
		}
		if st.restore(gn, e) {
			loaded++
		}
	}
	if loaded > 0 {
		log.Printf("guide: restored %d entries from snapshot cache", loaded)
	}
}
