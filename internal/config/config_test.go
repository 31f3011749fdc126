package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.ListenAddr != ":5004" {
		t.Errorf("ListenAddr = %q", c.ListenAddr)
	}
	if c.MaxDevices != 16 {
		t.Errorf("MaxDevices = %d", c.MaxDevices)
	}
	if c.Retention != 24*time.Hour {
		t.Errorf("Retention = %v", c.Retention)
	}
	if c.SchedulerInterval != 10*time.Second {
		t.Errorf("SchedulerInterval = %v", c.SchedulerInterval)
	}
	if c.GuideSource != GuideSourceSD {
		t.Errorf("GuideSource = %q", c.GuideSource)
	}
	if !c.HideProtected || !c.HideUnknown {
		t.Error("HideProtected/HideUnknown should default true")
	}
}

func TestLoad_guideSourceNormalised(t *testing.T) {
	os.Clearenv()
	os.Setenv("HDHR_BRIDGE_GUIDE_SOURCE", "xml")
	os.Setenv("HDHR_BRIDGE_XMLTV_URL", "http://example.com/guide.xml")
	c := Load()
	if c.GuideSource != GuideSourceXMLTV {
		t.Errorf("GuideSource = %q, want XMLTV", c.GuideSource)
	}
}

func TestLoad_xmltvWithoutURLFallsBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("HDHR_BRIDGE_GUIDE_SOURCE", "XMLTV")
	c := Load()
	if c.GuideSource != GuideSourceSD {
		t.Errorf("GuideSource = %q, want SD fallback when no XMLTV URL", c.GuideSource)
	}
}

func TestLoad_discoverTargets(t *testing.T) {
	os.Clearenv()
	os.Setenv("HDHR_BRIDGE_DISCOVER_TARGETS", "192.168.1.20, 192.168.1.21,")
	c := Load()
	if len(c.DiscoverTargets) != 2 || c.DiscoverTargets[0] != "192.168.1.20" || c.DiscoverTargets[1] != "192.168.1.21" {
		t.Errorf("DiscoverTargets = %v", c.DiscoverTargets)
	}
}

func TestLoad_maxDevicesClamped(t *testing.T) {
	os.Clearenv()
	os.Setenv("HDHR_BRIDGE_MAX_DEVICES", "500")
	c := Load()
	if c.MaxDevices != 16 {
		t.Errorf("MaxDevices = %d, want clamp to 16", c.MaxDevices)
	}
}
