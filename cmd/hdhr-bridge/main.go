// Command hdhr-bridge aggregates every tuner device on the network into
// one channel lineup, program guide, and recording service, served over
// HTTP. Zero interaction after .env: discovery, lineup merge, guide
// refresh, and the recording scheduler all run as background loops.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/snapetech/hdhrbridge/internal/config"
	"github.com/snapetech/hdhrbridge/internal/device"
	"github.com/snapetech/hdhrbridge/internal/guide"
	"github.com/snapetech/hdhrbridge/internal/hdhomerun"
	"github.com/snapetech/hdhrbridge/internal/health"
	"github.com/snapetech/hdhrbridge/internal/lineup"
	"github.com/snapetech/hdhrbridge/internal/metrics"
	"github.com/snapetech/hdhrbridge/internal/recorder"
	"github.com/snapetech/hdhrbridge/internal/server"
)

func main() {
	_ = config.LoadEnvFile(".env")
	cfg := config.Load()

	listen := flag.String("listen", cfg.ListenAddr, "HTTP listen address")
	baseURL := flag.String("base-url", cfg.BaseURL, "external base URL advertised in channel lists")
	recDir := flag.String("recording-dir", cfg.RecordingDir, "directory for recording files")
	cacheDir := flag.String("cache-dir", cfg.CacheDir, "directory for timer/recording/guide caches")
	healthFlag := flag.Bool("healthcheck", false, "probe the running service and exit 0/1")
	flag.Parse()
	cfg.ListenAddr = *listen
	cfg.BaseURL = *baseURL
	cfg.RecordingDir = *recDir
	cfg.CacheDir = *cacheDir

	if *healthFlag {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := health.CheckEndpoints(ctx, probeURL(cfg)); err != nil {
			log.Printf("healthcheck: %v", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Debug {
		log.Printf("config: %+v", cfg)
	}

	dir := device.NewDirectory(&hdhomerun.Client{}, nil)
	dir.HTTPDiscovery = cfg.HTTPDiscovery
	dir.Targets = cfg.DiscoverTargets
	dir.MaxDevices = cfg.MaxDevices

	idx := lineup.NewIndex(nil)
	idx.HideUnknown = cfg.HideUnknown
	idx.HideProtected = cfg.HideProtected
	idx.HideDuplicate = cfg.HideDuplicate
	idx.UseLegacy = cfg.UseLegacy

	gd := guide.NewStore()
	gd.Retention = cfg.Retention
	gd.MarkNew = cfg.MarkNew

	// Dropping a device deletes its channels from the lineup and the
	// guide in the same operation.
	dir.OnRemove = func(d device.Device) {
		emptied := idx.RemoveDevice(d.ID)
		if len(emptied) > 0 {
			gd.RemoveChannels(emptied)
			log.Printf("main: device %08X removed, %d channels dropped with it", d.ID, len(emptied))
		}
	}

	var src guide.Source
	switch cfg.GuideSource {
	case config.GuideSourceXMLTV:
		src = &guide.XMLTVSource{URL: cfg.XMLTVURL, Timeout: cfg.XMLTVTimeout}
	default:
		src = &guide.SDSource{Advanced: cfg.GuideAdvanced}
	}

	snapshot := &guide.SnapshotCache{Path: filepath.Join(cfg.CacheDir, "guide.db")}
	snapshot.Load(gd)

	recStore := recorder.NewStore(cfg.CacheDir)
	recStore.Load()

	sched := recorder.NewScheduler(recStore, idx, gd, cfg.RecordingDir)
	sched.Interval = cfg.SchedulerInterval
	sched.Lead = cfg.StartLead

	refresh := func(ctx context.Context, full bool) {
		added, removed, err := dir.Rescan(ctx, full)
		if err != nil {
			log.Printf("main: rescan: %v", err)
		} else if len(added)+len(removed) > 0 {
			log.Printf("main: rescan: %d added, %d removed", len(added), len(removed))
		}
		metrics.Rescans.Inc()

		devices := dir.Devices()
		metrics.DevicesTracked.Set(float64(len(devices)))
		idx.Refresh(ctx, devices)
		metrics.ChannelsTracked.Set(float64(idx.Len()))

		ids := make([]uint32, 0, len(devices))
		byID := make(map[uint32]device.Device, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
			byID[d.ID] = d
		}
		covering, err := guide.SelectCovering(idx.Capabilities(), ids)
		if err != nil {
			log.Printf("main: guide refresh skipped: %v", err)
			return
		}
		metrics.CoveringSize.Set(float64(len(covering)))
		fetchFrom := make([]device.Device, 0, len(covering))
		for _, id := range covering {
			fetchFrom = append(fetchFrom, byID[id])
		}
		gd.Refresh(ctx, src, fetchFrom)
		if err := snapshot.Save(gd); err != nil {
			log.Printf("main: guide snapshot: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refresh(ctx, true)

	go func() {
		interval := cfg.RefreshInterval
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh(ctx, false)
			}
		}
	}()

	go sched.Run(ctx)

	srv := &server.Server{
		Addr:         cfg.ListenAddr,
		BaseURL:      cfg.BaseURL,
		ProxyStreams: cfg.ProxyStreams,
		Directory:    dir,
		Lineup:       idx,
		Guide:        gd,
		Store:        recStore,
		Scheduler:    sched,
		RefreshFn:    func() { refresh(context.Background(), false) },
	}
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("main: %v", err)
	}

	// Run returned because ctx is done; the scheduler joins its
	// recorders inside its own shutdown path, give it a moment here too.
	sched.Shutdown(30 * time.Second)
	log.Print("main: bye")
}

// probeURL targets the local listener rather than the advertised base
// URL, which may only resolve from outside the container.
func probeURL(cfg *config.Config) string {
	_, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil || port == "" {
		return "http://127.0.0.1:5004"
	}
	return "http://127.0.0.1:" + port
}
