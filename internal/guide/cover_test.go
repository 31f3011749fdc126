package guide

import (
	"errors"
	"reflect"
	"testing"

	"github.com/snapetech/hdhrbridge/internal/lineup"
)

func gn(t *testing.T, s string) lineup.GuideNumber {
	t.Helper()
	n, err := lineup.ParseGuideNumber(s)
	if err != nil {
		t.Fatalf("ParseGuideNumber(%q): %v", s, err)
	}
	return n
}

func TestSelectCovering_singleDeviceSuffices(t *testing.T) {
	caps := map[lineup.GuideNumber][]uint32{
		gn(t, "2.1"): {10, 20},
		gn(t, "5.1"): {10},
		gn(t, "7.1"): {10, 30},
	}
	got, err := SelectCovering(caps, []uint32{10, 20, 30})
	if err != nil {
		t.Fatalf("SelectCovering: %v", err)
	}
	if !reflect.DeepEqual(got, []uint32{10}) {
		t.Fatalf("got %v, want [10]", got)
	}
}

func TestSelectCovering_pairNeeded(t *testing.T) {
	// No single device reaches all three channels; any pair does.
	caps := map[lineup.GuideNumber][]uint32{
		gn(t, "2.1"): {1, 2},
		gn(t, "5.1"): {2, 3},
		gn(t, "7.1"): {1, 3},
	}
	got, err := SelectCovering(caps, []uint32{3, 1, 2})
	if err != nil {
		t.Fatalf("SelectCovering: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want a 2-device cover", got)
	}
	// First pair in lexicographic order over the sorted fleet.
	if !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Fatalf("got %v, want [1 2]", got)
	}
}

func TestSelectCovering_deterministic(t *testing.T) {
	caps := map[lineup.GuideNumber][]uint32{
		gn(t, "2.1"): {5, 9},
		gn(t, "4.2"): {9, 7},
	}
	first, err := SelectCovering(caps, []uint32{9, 7, 5})
	if err != nil {
		t.Fatalf("SelectCovering: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := SelectCovering(caps, []uint32{7, 5, 9})
		if err != nil {
			t.Fatalf("SelectCovering: %v", err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: got %v, want %v", i, got, first)
		}
	}
}

func TestSelectCovering_unreachableChannel(t *testing.T) {
	caps := map[lineup.GuideNumber][]uint32{
		gn(t, "2.1"): {1},
		gn(t, "5.1"): {99}, // not in the fleet
	}
	if _, err := SelectCovering(caps, []uint32{1, 2}); !errors.Is(err, ErrNoCover) {
		t.Fatalf("err = %v, want ErrNoCover", err)
	}
}

func TestSelectCovering_emptyFleet(t *testing.T) {
	caps := map[lineup.GuideNumber][]uint32{gn(t, "2.1"): {1}}
	if _, err := SelectCovering(caps, nil); !errors.Is(err, ErrNoCover) {
		t.Fatalf("err = %v, want ErrNoCover", err)
	}
}

func TestSelectCovering_noChannels(t *testing.T) {
	got, err := SelectCovering(nil, []uint32{1, 2})
	if err != nil {
		t.Fatalf("SelectCovering: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want empty cover", got)
	}
}
