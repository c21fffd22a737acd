// Package expiry derives expiry dates from shelf life and classifies items
// relative to the current time.
package expiry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/models"
)

const (
	// DefaultWindowDays is how many days ahead an item counts as expiring soon.
	DefaultWindowDays = 2
	// MinShelfLifeDays is the smallest accepted shelf life.
	MinShelfLifeDays = 1
	// MaxShelfLifeDays is the largest accepted shelf life (about ten years).
	MaxShelfLifeDays = 3650
)

// ErrInvalidShelfLife is returned for shelf lives outside [MinShelfLifeDays, MaxShelfLifeDays]
// or that are not whole numbers.
var ErrInvalidShelfLife = errors.New("shelf life must be a whole number of days between 1 and 3650")

// Status is the classification of an item at a point in time.
type Status string

const (
	Fresh        Status = "fresh"
	ExpiringSoon Status = "expiring_soon"
	Expired      Status = "expired"
)

// ValidateShelfLife rejects shelf lives that are out of range. Values are never clamped.
func ValidateShelfLife(days int) error {
	if days < MinShelfLifeDays || days > MaxShelfLifeDays {
		return fmt.Errorf("%w: got %d", ErrInvalidShelfLife, days)
	}
	return nil
}

// ParseShelfLife parses user input such as "5" into a validated shelf life.
func ParseShelfLife(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: value is empty", ErrInvalidShelfLife)
	}
	days, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidShelfLife, s)
	}
	if err := ValidateShelfLife(days); err != nil {
		return 0, err
	}
	return days, nil
}

// Classifier holds the reference timezone and the expiring-soon window.
// The zero value is not usable; use New.
type Classifier struct {
	loc        *time.Location
	windowDays int
}

// New returns a Classifier. A nil location means UTC and a negative window is treated as zero.
func New(loc *time.Location, windowDays int) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	if windowDays < 0 {
		windowDays = 0
	}
	return &Classifier{loc: loc, windowDays: windowDays}
}

// Location returns the reference timezone used for calendar arithmetic.
func (c *Classifier) Location() *time.Location { return c.loc }

// WindowDays returns the expiring-soon lookahead in days.
func (c *Classifier) WindowDays() int { return c.windowDays }

// ExpiryDate returns created advanced by shelfLife calendar days in the reference timezone.
func (c *Classifier) ExpiryDate(created time.Time, shelfLife int) (time.Time, error) {
	if err := ValidateShelfLife(shelfLife); err != nil {
		return time.Time{}, err
	}
	return created.In(c.loc).AddDate(0, 0, shelfLife), nil
}

// Horizon is the latest expiry instant still counted as expiring soon at now.
func (c *Classifier) Horizon(now time.Time) time.Time {
	return now.In(c.loc).AddDate(0, 0, c.windowDays)
}

// Classify reports whether an item expiring at expiry is fresh, expiring soon or expired at now.
// An item expiring exactly at now is expiring soon, not expired.
func (c *Classifier) Classify(expiry, now time.Time) Status {
	switch {
	case expiry.Before(now):
		return Expired
	case !expiry.After(c.Horizon(now)):
		return ExpiringSoon
	default:
		return Fresh
	}
}

// IsExpiringSoon reports whether 0 <= expiry-now <= window.
func (c *Classifier) IsExpiringSoon(expiry, now time.Time) bool {
	return c.Classify(expiry, now) == ExpiringSoon
}

// Annotate returns a copy of items with Status filled in and dates in the
// classifier's location.
func (c *Classifier) Annotate(items []models.Item, now time.Time) []models.Item {
	out := make([]models.Item, len(items))
	for i, it := range items {
		out[i] = c.annotate(it, now)
	}
	return out
}

func (c *Classifier) annotate(it models.Item, now time.Time) models.Item {
	it.ExpiryDate = it.ExpiryDate.In(c.loc)
	it.PurchasedAt = it.PurchasedAt.In(c.loc)
	it.Status = string(c.Classify(it.ExpiryDate, now))
	return it
}

// Localize returns a copy of history with purchase dates in the classifier's location.
func (c *Classifier) Localize(history []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(history))
	for i, h := range history {
		h.PurchasedAt = h.PurchasedAt.In(c.loc)
		out[i] = h
	}
	return out
}

// ExpiringSoon returns the expiring-soon items, deduplicated by ID and sorted
// by expiry date ascending.
func (c *Classifier) ExpiringSoon(items []models.Item, now time.Time) []models.Item {
	return c.selectStatus(items, now, ExpiringSoon)
}

// Expired returns the already-expired items, deduplicated by ID and sorted
// by expiry date ascending.
func (c *Classifier) Expired(items []models.Item, now time.Time) []models.Item {
	return c.selectStatus(items, now, Expired)
}

func (c *Classifier) selectStatus(items []models.Item, now time.Time, want Status) []models.Item {
	seen := make(map[int64]bool, len(items))
	out := make([]models.Item, 0)
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		it = c.annotate(it, now)
		if Status(it.Status) != want {
			continue
		}
		out = append(out, it)
	}
	SortByExpiry(out)
	return out
}

// Views builds every dashboard projection from one consistent set of items and history.
func (c *Classifier) Views(items []models.Item, history []models.HistoryEntry, now time.Time) models.Views {
	return models.Views{
		Items:        c.Annotate(items, now),
		ExpiringSoon: c.ExpiringSoon(items, now),
		Expired:      c.Expired(items, now),
		History:      c.Localize(history),
	}
}

// SortByExpiry orders items by expiry date ascending, breaking ties by ID.
func SortByExpiry(items []models.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ExpiryDate.Equal(items[j].ExpiryDate) {
			return items[i].ID < items[j].ID
		}
		return items[i].ExpiryDate.Before(items[j].ExpiryDate)
	})
}
