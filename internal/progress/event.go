package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/notify"
)

// Kind identifies the lifecycle point an Event represents.
type Kind string

// Event kinds.
const (
	KindStarted   Kind = "started"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindError     Kind = "error"
)

// Terminal reports whether the kind closes a job.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindError
}

// Event is one lifecycle notification for a job. It is never persisted
// itself; the Bridge folds it into the job row.
type Event struct {
	Kind      Kind
	JobID     uuid.UUID
	ProjectID uuid.UUID
	URL       string
	Progress  jobs.ScrapeProgress
	Result    json.RawMessage
	Error     string
	TS        time.Time
	// Elapsed is the wall time since launch; set on terminal events.
	Elapsed time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == uuid.Nil {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStarted, KindCompleted:
	case KindProgress:
		if e.Progress.Percent < 0 || e.Progress.PagesScraped < 0 || e.Progress.TotalPages < 0 {
			return errors.New("progress counters must be >= 0")
		}
	case KindError:
		if e.Error == "" {
			return errors.New("error event requires a message")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}

// Percent derives the completion percentage of a progress event. An
// explicit percent wins; otherwise it is pages_scraped / total_pages.
// Running jobs never report 100.
func (e Event) Percent() int {
	p := e.Progress
	pct := p.Percent
	if pct <= 0 && p.TotalPages > 0 {
		pct = p.PagesScraped * 100 / p.TotalPages
	}
	switch {
	case pct < 0:
		return 0
	case pct > 99:
		return 99
	default:
		return pct
	}
}

// Message renders the broadcast frame for the event.
func (e Event) Message() notify.Message {
	msg := notify.Message{
		JobID: e.JobID.String(),
		URL:   e.URL,
	}
	if e.ProjectID != uuid.Nil {
		msg.ProjectID = e.ProjectID.String()
	}
	switch e.Kind {
	case KindStarted:
		msg.Type = notify.TypeStarted
	case KindProgress:
		msg.Type = notify.TypeProgress
		msg.Progress = &notify.Progress{
			Percent:      e.Percent(),
			PagesScraped: e.Progress.PagesScraped,
			TotalPages:   e.Progress.TotalPages,
			CurrentURL:   e.Progress.CurrentURL,
		}
	case KindCompleted:
		msg.Type = notify.TypeCompleted
		msg.Result = e.Result
	case KindError:
		msg.Type = notify.TypeError
		msg.Error = e.Error
	}
	return msg
}
