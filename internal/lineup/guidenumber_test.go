package lineup

import "testing"

func TestParseGuideNumber(t *testing.T) {
	cases := []struct {
		in      string
		ch, sub uint32
		wantErr bool
	}{
		{"2.1", 2, 1, false},
		{"503", 503, 0, false},
		{"5.0", 5, 0, false},
		{" 7.2 ", 7, 2, false},
		{"abc", 0, 0, true},
		{"5.x", 0, 0, true},
		{"5.10000", 0, 0, true}, // subchannel at the dense-encoding bound
		{"", 0, 0, true},
	}
	for _, c := range cases {
		g, err := ParseGuideNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseGuideNumber(%q): want error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseGuideNumber(%q): %v", c.in, err)
			continue
		}
		if g.Channel != c.ch || g.Sub != c.sub {
			t.Errorf("ParseGuideNumber(%q) = %d.%d", c.in, g.Channel, g.Sub)
		}
	}
}

func TestDenseIDRoundtrip(t *testing.T) {
	for _, g := range []GuideNumber{{2, 1}, {503, 0}, {1, 9999}, {0, 0}, {4295, 12}} {
		if got := FromID(g.ID()); got != g {
			t.Errorf("FromID(ID(%v)) = %v", g, got)
		}
	}
	if (GuideNumber{2, 1}).ID() != 20001 {
		t.Errorf("ID(2.1) = %d, want 20001", (GuideNumber{2, 1}).ID())
	}
}

func TestGuideNumberOrdering(t *testing.T) {
	a, b, c := GuideNumber{2, 1}, GuideNumber{2, 2}, GuideNumber{10, 0}
	if !a.Less(b) || !b.Less(c) || c.Less(a) {
		t.Error("ordering should be lexicographic on (channel, subchannel)")
	}
}

func TestGuideNumberString(t *testing.T) {
	if s := (GuideNumber{5, 1}).String(); s != "5.1" {
		t.Errorf("String = %q", s)
	}
	if s := (GuideNumber{503, 0}).String(); s != "503" {
		t.Errorf("String = %q", s)
	}
}
