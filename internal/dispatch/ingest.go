package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/models"
	"scan-dispatcher/internal/notify"
	"scan-dispatcher/internal/telemetry"
)

// Outcome describes what a successful submission did.
type Outcome struct {
	JobID    int64
	Status   models.JobStatus
	Empty    bool
	Notified bool
}

// Ingestor accepts result submissions.
type Ingestor struct {
	results  ResultStore
	sender   notify.Sender
	archiver Archiver
}

// NewIngestor builds an ingestor. sender and archiver may be nil, which turns
// notifications or archiving off.
func NewIngestor(results ResultStore, sender notify.Sender, archiver Archiver) *Ingestor {
	return &Ingestor{results: results, sender: sender, archiver: archiver}
}

// Submit validates and persists raw. Once the result is stored the call
// succeeds; archive, lookup and notification failures are only logged.
func (i *Ingestor) Submit(ctx context.Context, agent models.AgentID, raw []byte) (Outcome, error) {
	res, err := models.DecodeResult(raw)
	if err != nil {
		telemetry.ResultsRejected.Inc()
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	entry := logger.WithFields(logrus.Fields{"agent_id": agent, "job_id": res.JobID})
	out := Outcome{JobID: res.JobID, Status: res.Status(), Empty: res.Empty()}
	if out.Empty {
		telemetry.EmptySubmissions.Inc()
		entry.Warn("agent submitted an empty result set")
	}

	if err := i.results.SaveResult(ctx, agent, res, out.Status); err != nil {
		if errors.Is(err, models.ErrJobNotAssigned) {
			telemetry.ResultsRejected.Inc()
			entry.Warn("result submitted for a job that is not assigned")
			return Outcome{}, ErrJobNotAssigned
		}
		return Outcome{}, fmt.Errorf("save result for job %d: %w", res.JobID, err)
	}
	telemetry.ResultsSaved.WithLabelValues(string(out.Status)).Inc()
	entry.WithField("status", out.Status).Info("result saved")

	if i.archiver != nil {
		if err := i.archiver.Archive(ctx, res.JobID, raw); err != nil {
			entry.WithError(err).Warn("archiving raw result failed")
		}
	}

	out.Notified = i.notify(ctx, entry, res)
	return out, nil
}

func (i *Ingestor) notify(ctx context.Context, entry *logrus.Entry, res models.Result) bool {
	details, err := i.results.JobNotifyDetails(ctx, res.JobID)
	if err != nil {
		entry.WithError(err).Warn("fetching notification details failed")
		return false
	}
	if details.Email == nil || *details.Email == "" {
		return false
	}
	if i.sender == nil {
		entry.Debug("no mail sender configured, skipping notification")
		return false
	}

	email := notify.Compose(*details.Email, notify.Report{
		JobID:       res.JobID,
		FilesetScan: details.FilesetScan,
		RuleNames:   notify.RuleNames(details.Rules),
		Result:      res,
	})
	if err := i.sender.Send(ctx, email); err != nil {
		telemetry.NotificationFailures.Inc()
		entry.WithError(err).WithField("to", email.To).Warn("sending notification failed")
		return false
	}
	telemetry.NotificationsSent.Inc()
	return true
}
