package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
)

// Clusterer assigns capture event numbers to freshly ingested images.
//
// An animal walking past a trail camera triggers a burst of shots over a few
// minutes. The clusterer folds such a burst into one capture event: images
// from the same camera belong to the same event when they fall on the same
// calendar date and each consecutive gap is within the configured threshold.
// A date boundary always starts a new event, even when the gap across
// midnight is small, so event numbers stay meaningful as daily activity
// records.
type Clusterer struct {
	store     datastore.Interface
	allocator *Allocator
	gap       time.Duration
	logger    *slog.Logger
}

// NewClusterer creates a clustering engine using the configured gap threshold.
func NewClusterer(store datastore.Interface, allocator *Allocator, settings *conf.IngestSettings) *Clusterer {
	return &Clusterer{
		store:     store,
		allocator: allocator,
		gap:       settings.Clustering.GapThreshold,
		logger:    logging.ForService("events"),
	}
}

// AssignEvents clusters the given images of one project into capture events,
// persists the resolved numbers and returns the image-to-event assignment.
//
// Images are partitioned by camera serial, each partition is clustered
// independently against its own anchors, but all partitions draw numbers
// from the shared project counter. The input may arrive in any order.
func (c *Clusterer) AssignEvents(ctx context.Context, projectID uint, images []datastore.Image) (map[uint]int64, error) {
	if len(images) == 0 {
		return nil, nil
	}

	assignments := make(map[uint]int64, len(images))

	for serial, partition := range partitionByCamera(images) {
		if err := c.clusterPartition(ctx, projectID, serial, partition, assignments); err != nil {
			return nil, err
		}
	}

	if err := c.store.AssignEventNumbers(ctx, assignments); err != nil {
		return nil, err
	}

	c.logger.Info("assigned capture events",
		"project_id", projectID,
		"images", len(images),
		"events", distinctEvents(assignments))

	return assignments, nil
}

// clusterPartition walks one camera's images in capture order and fills in
// the assignment map.
func (c *Clusterer) clusterPartition(ctx context.Context, projectID uint, serial string, partition []datastore.Image, assignments map[uint]int64) error {
	sort.SliceStable(partition, func(i, j int) bool {
		if partition[i].CapturedAt.Equal(partition[j].CapturedAt) {
			return partition[i].ID < partition[j].ID
		}
		return partition[i].CapturedAt.Before(partition[j].CapturedAt)
	})

	anchors, err := c.store.EventAnchors(ctx, projectID, serial)
	if err != nil {
		return err
	}

	var (
		currentEvent int64
		previousAt   time.Time
		haveEvent    bool
	)

	for i := range partition {
		img := &partition[i]

		if haveEvent && continuesEvent(previousAt, img.CapturedAt, c.gap) {
			assignments[img.ID] = currentEvent
			previousAt = img.CapturedAt
			continue
		}

		// Starting a new group: prefer an already persisted event whose
		// earliest image is close enough, so a re-uploaded or late-arriving
		// burst rejoins its original event instead of minting a new number.
		if anchor, ok := matchAnchor(anchors, img.CapturedAt, c.gap); ok {
			currentEvent = anchor.EventNumber
		} else {
			next, err := c.allocator.Next(ctx, projectID)
			if err != nil {
				return errors.New(fmt.Errorf("allocating event number: %w", err)).
					Component("events").
					Category(errors.CategoryClustering).
					Context("project_id", projectID).
					Context("camera_serial", serial).
					Build()
			}
			currentEvent = next
		}

		assignments[img.ID] = currentEvent
		previousAt = img.CapturedAt
		haveEvent = true
	}

	return nil
}

// continuesEvent reports whether a shot at next belongs to the running event
// whose latest shot was at prev. Both conditions must hold: same calendar
// date and a gap within the threshold.
func continuesEvent(prev, next time.Time, gap time.Duration) bool {
	return sameCalendarDate(prev, next) && next.Sub(prev) <= gap
}

// sameCalendarDate compares the UTC calendar dates of two timestamps.
func sameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// matchAnchor finds the persisted event closest in time to t among anchors
// on the same calendar date within the gap threshold.
func matchAnchor(anchors []datastore.EventAnchor, t time.Time, gap time.Duration) (datastore.EventAnchor, bool) {
	var (
		best     datastore.EventAnchor
		bestDiff time.Duration
		found    bool
	)

	for _, anchor := range anchors {
		if !sameCalendarDate(anchor.CapturedAt, t) {
			continue
		}
		diff := t.Sub(anchor.CapturedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > gap {
			continue
		}
		if !found || diff < bestDiff {
			best = anchor
			bestDiff = diff
			found = true
		}
	}

	return best, found
}

func partitionByCamera(images []datastore.Image) map[string][]datastore.Image {
	partitions := make(map[string][]datastore.Image)
	for _, img := range images {
		partitions[img.CameraSerial] = append(partitions[img.CameraSerial], img)
	}
	return partitions
}

func distinctEvents(assignments map[uint]int64) int {
	seen := make(map[int64]struct{}, len(assignments))
	for _, event := range assignments {
		seen[event] = struct{}{}
	}
	return len(seen)
}
