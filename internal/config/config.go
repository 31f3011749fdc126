package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Guide source names accepted by HDHR_BRIDGE_GUIDE_SOURCE.
const (
	GuideSourceSD    = "SD"
	GuideSourceXMLTV = "XMLTV"
)

// Config holds tuner discovery, lineup, guide and recorder settings.
// Load from env; call LoadEnvFile(".env") before Load() to use a .env file.
type Config struct {
	// HTTP surface
	ListenAddr   string // e.g. :5004
	BaseURL      string // external base URL advertised to clients, e.g. http://192.168.1.10:5004
	ProxyStreams bool   // relay device streams through this process instead of redirecting

	// Discovery
	HTTPDiscovery   bool     // try the directory-service lookup before broadcast
	DiscoverTargets []string // extra unicast addresses to probe directly
	MaxDevices      int      // hard cap on discovered devices per rescan

	// Lineup
	HideProtected bool // drop DRM channels entirely
	HideUnknown   bool // drop channels the provider names "Unknown"
	HideDuplicate bool // skip repeated guide numbers within one device's lineup
	UseLegacy     bool // include legacy devices (no advertised lineup URL)

	// Guide
	GuideSource   string // "SD" | "XMLTV"
	GuideAdvanced bool   // SD source: page the extended guide past the basic window
	XMLTVURL      string
	XMLTVTimeout  time.Duration
	MarkNew       bool          // prefix "*" on titles first aired within 48h of start
	Retention     time.Duration // guide entries older than now-Retention are aged out

	// Loops
	RefreshInterval   time.Duration // lineup+guide refresh period
	SchedulerInterval time.Duration // recorder poll period
	StartLead         time.Duration // start recordings this early

	// Paths
	RecordingDir string
	CacheDir     string // timers.json, recordings.json, guide.db live here

	Debug bool
}

// Load reads config from environment with defaults usable on a flat LAN.
func Load() *Config {
	c := &Config{
		ListenAddr:        getEnv("HDHR_BRIDGE_LISTEN", ":5004"),
		BaseURL:           os.Getenv("HDHR_BRIDGE_BASE_URL"),
		ProxyStreams:      getEnvBool("HDHR_BRIDGE_PROXY_STREAMS", false),
		HTTPDiscovery:     getEnvBool("HDHR_BRIDGE_HTTP_DISCOVERY", false),
		DiscoverTargets:   getEnvList("HDHR_BRIDGE_DISCOVER_TARGETS"),
		MaxDevices:        getEnvInt("HDHR_BRIDGE_MAX_DEVICES", 16),
		HideProtected:     getEnvBool("HDHR_BRIDGE_HIDE_PROTECTED", true),
		HideUnknown:       getEnvBool("HDHR_BRIDGE_HIDE_UNKNOWN", true),
		HideDuplicate:     getEnvBool("HDHR_BRIDGE_HIDE_DUPLICATE", true),
		UseLegacy:         getEnvBool("HDHR_BRIDGE_USE_LEGACY", false),
		GuideSource:       getEnvGuideSource("HDHR_BRIDGE_GUIDE_SOURCE", GuideSourceSD),
		GuideAdvanced:     getEnvBool("HDHR_BRIDGE_GUIDE_ADVANCED", false),
		XMLTVURL:          os.Getenv("HDHR_BRIDGE_XMLTV_URL"),
		XMLTVTimeout:      getEnvDuration("HDHR_BRIDGE_XMLTV_TIMEOUT", 45*time.Second),
		MarkNew:           getEnvBool("HDHR_BRIDGE_MARK_NEW", false),
		Retention:         getEnvDuration("HDHR_BRIDGE_GUIDE_RETENTION", 24*time.Hour),
		RefreshInterval:   getEnvDuration("HDHR_BRIDGE_REFRESH_INTERVAL", time.Hour),
		SchedulerInterval: getEnvDuration("HDHR_BRIDGE_SCHEDULER_INTERVAL", 10*time.Second),
		StartLead:         getEnvDuration("HDHR_BRIDGE_START_LEAD", 10*time.Second),
		RecordingDir:      getEnv("HDHR_BRIDGE_RECORDING_DIR", "/var/lib/hdhrbridge/recordings"),
		CacheDir:          getEnv("HDHR_BRIDGE_CACHE", "/var/cache/hdhrbridge"),
		Debug:             getEnvBool("HDHR_BRIDGE_DEBUG", false),
	}
	if c.MaxDevices <= 0 || c.MaxDevices > 64 {
		c.MaxDevices = 16
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}
	if c.SchedulerInterval <= 0 {
		c.SchedulerInterval = 10 * time.Second
	}
	if c.XMLTVTimeout <= 0 {
		c.XMLTVTimeout = 45 * time.Second
	}
	// XMLTV selected without a URL cannot fetch anything; fall back.
	if c.GuideSource == GuideSourceXMLTV && c.XMLTVURL == "" {
		c.GuideSource = GuideSourceSD
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var, trimming blanks.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnvGuideSource normalises the guide source name; unknown values fall back.
func getEnvGuideSource(key, defaultVal string) string {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv(key))) {
	case GuideSourceSD:
		return GuideSourceSD
	case GuideSourceXMLTV, "XML":
		return GuideSourceXMLTV
	}
	return defaultVal
}
