package indexer

import (
	"errors"
	"testing"
	"time"

	"github.com/veil-protocol/veil/pkg/common"
)

func TestDegradationTrackerSurfacesAfterThreshold(t *testing.T) {
	d := NewDegradationTracker(3, time.Minute)
	now := time.Unix(1000, 0)

	if err := d.Fail(now); err != nil {
		t.Fatalf("1st failure should not degrade, got %v", err)
	}
	if err := d.Fail(now.Add(time.Second)); err != nil {
		t.Fatalf("2nd failure should not degrade, got %v", err)
	}
	err := d.Fail(now.Add(2 * time.Second))
	if !errors.Is(err, common.ErrIndexerDegraded) {
		t.Fatalf("3rd failure within the window should degrade, got %v", err)
	}
}

func TestDegradationTrackerWindowExpires(t *testing.T) {
	d := NewDegradationTracker(2, time.Minute)
	now := time.Unix(2000, 0)

	if err := d.Fail(now); err != nil {
		t.Fatalf("1st failure should not degrade, got %v", err)
	}
	// A second failure well outside the window should not combine with
	// the first to trip the threshold.
	err := d.Fail(now.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("failure outside the window should not degrade, got %v", err)
	}
}

func TestDegradationTrackerResetClearsFailures(t *testing.T) {
	d := NewDegradationTracker(2, time.Minute)
	now := time.Unix(3000, 0)

	if err := d.Fail(now); err != nil {
		t.Fatalf("1st failure should not degrade, got %v", err)
	}
	d.Reset()
	err := d.Fail(now.Add(time.Second))
	if err != nil {
		t.Fatalf("failure right after Reset should not degrade, got %v", err)
	}
}
