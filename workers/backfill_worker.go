// workers/backfill_worker.go
package workers

import (
	"context"
	"fmt"
	"time"

	"cashback-referral-system/services"

	"github.com/sirupsen/logrus"
)

// Archive is the read side of the raw event archive.
type Archive interface {
	List(ctx context.Context, from, to time.Time) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// OrderPaidHandler processes one parsed purchase event.
type OrderPaidHandler interface {
	HandleOrderPaid(ctx context.Context, ev services.OrderPaidEvent) (*services.PurchaseOutcome, error)
}

// BackfillReport summarizes one replay run.
type BackfillReport struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Listed     int       `json:"listed"`
	Processed  int       `json:"processed"`
	Attributed int       `json:"attributed"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	FailedKeys []string  `json:"failed_keys,omitempty"`
}

// BackfillWorker replays archived order-paid webhooks. Replays are safe:
// orders already attributed are skipped by the purchase handler.
type BackfillWorker struct {
	archive  Archive
	handler  OrderPaidHandler
	log      *logrus.Logger
	maxFails int
}

func NewBackfillWorker(archive Archive, handler OrderPaidHandler, log *logrus.Logger) *BackfillWorker {
	return &BackfillWorker{archive: archive, handler: handler, log: log, maxFails: 50}
}

// Run replays every event archived between from and to (whole days, UTC).
// It stops early when ctx is cancelled or too many events fail.
func (w *BackfillWorker) Run(ctx context.Context, from, to time.Time) (*BackfillReport, error) {
	w.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("🔁 starting purchase event backfill")

	keys, err := w.archive.List(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list archived events: %w", err)
	}
	report := &BackfillReport{From: from, To: to, Listed: len(keys)}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entry := w.log.WithField("key", key)

		outcome, err := w.replay(ctx, key)
		if err != nil {
			report.Failed++
			report.FailedKeys = append(report.FailedKeys, key)
			entry.WithError(err).Warn("⚠️ backfill event failed")
			if report.Failed >= w.maxFails {
				return report, fmt.Errorf("backfill aborted after %d failures", report.Failed)
			}
			continue
		}

		report.Processed++
		switch {
		case outcome.Duplicate:
			report.Duplicates++
		case outcome.RewardID != "":
			report.Attributed++
		}
	}

	w.log.WithFields(logrus.Fields{
		"listed":     report.Listed,
		"processed":  report.Processed,
		"attributed": report.Attributed,
		"duplicates": report.Duplicates,
		"failed":     report.Failed,
	}).Info("✅ purchase event backfill finished")
	return report, nil
}

func (w *BackfillWorker) replay(ctx context.Context, key string) (*services.PurchaseOutcome, error) {
	body, err := w.archive.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ev, err := services.ParseOrderPaidWebhook(body)
	if err != nil {
		return nil, err
	}
	return w.handler.HandleOrderPaid(ctx, ev)
}
