package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"grocery-tracker/internal/expiry"
	"grocery-tracker/internal/models"
)

// ReminderStore is the part of storage.Store the notifier needs.
type ReminderStore interface {
	ListReminders(ctx context.Context, cutoff time.Time) ([]models.Reminder, error)
	MarkNotified(ctx context.Context, itemID int64) error
}

// Notifier sends one reminder per item once it is expiring soon or expired.
type Notifier struct {
	store      ReminderStore
	classifier *expiry.Classifier
	sender     Sender
	now        func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(store ReminderStore, classifier *expiry.Classifier, sender Sender) *Notifier {
	return &Notifier{store: store, classifier: classifier, sender: sender, now: time.Now}
}

// Message builds the reminder text for an item.
func Message(item models.Item, status expiry.Status, loc *time.Location) string {
	date := item.ExpiryDate.In(loc).Format("2006-01-02")
	if status == expiry.Expired {
		return fmt.Sprintf("Your %s expired on %s.", item.Name, date)
	}
	return fmt.Sprintf("Your %s is expiring on %s. Use it soon!", item.Name, date)
}

// RunOnce sends reminders for every due item and returns how many were sent.
// An item is marked notified only after a successful send, so failures are
// retried on the next run. Owners without a phone number are skipped and marked.
func (n *Notifier) RunOnce(ctx context.Context) (int, error) {
	now := n.now()
	reminders, err := n.store.ListReminders(ctx, n.classifier.Horizon(now))
	if err != nil {
		return 0, fmt.Errorf("list reminders: %w", err)
	}

	sent := 0
	for _, r := range reminders {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		status := n.classifier.Classify(r.Item.ExpiryDate, now)
		if status == expiry.Fresh {
			continue
		}
		if r.PhoneNumber != "" {
			body := Message(r.Item, status, n.classifier.Location())
			if err := n.sender.Send(ctx, r.PhoneNumber, body); err != nil {
				slog.Error("Failed to send reminder", "item_id", r.Item.ID, "user", r.Username, "error", err)
				continue
			}
			sent++
		}
		if err := n.store.MarkNotified(ctx, r.Item.ID); err != nil {
			slog.Error("Failed to mark item notified", "item_id", r.Item.ID, "error", err)
		}
	}
	return sent, nil
}

// Scheduler runs a Notifier at a fixed interval.
type Scheduler struct {
	notifier *Notifier
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewScheduler creates a background scheduler.
func NewScheduler(notifier *Notifier, interval time.Duration) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the notification loop. The first run happens immediately.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			sent, err := s.notifier.RunOnce(ctx)
			cancel()

			if err != nil {
				slog.Error("Notifier run failed", "error", err)
			} else {
				slog.Info("Sent expiry notifications", "count", sent)
			}

			select {
			case <-s.stopChan:
				return
			case <-time.After(s.interval):
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
