package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"club-ladder/config"
	"club-ladder/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// SweepKind names a batch entry point.
type SweepKind string

const (
	SweepReminders    SweepKind = "reminders"
	SweepAutoValidate SweepKind = "auto-validate"
	SweepDecay        SweepKind = "decay"
)

var SweepKinds = []SweepKind{SweepReminders, SweepAutoValidate, SweepDecay}

// SweepError is the failure of one item; siblings are still processed.
type SweepError struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SweepResult is the summary every batch entry point returns.
type SweepResult struct {
	Kind       SweepKind    `json:"kind"`
	Processed  int          `json:"processed"`
	Succeeded  int          `json:"succeeded"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Errors     []SweepError `json:"errors"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func newSweepResult(kind SweepKind, now time.Time) *SweepResult {
	return &SweepResult{Kind: kind, Errors: []SweepError{}, StartedAt: now}
}

func (r *SweepResult) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, SweepError{ID: id, Code: CodeOf(err), Message: err.Error()})
	log.Printf("[Sweep] ❌ %s item %s failed: %v", r.Kind, id, err)
}

func (r *SweepResult) String() string {
	return fmt.Sprintf("%s: processed=%d succeeded=%d skipped=%d failed=%d in %s",
		r.Kind, r.Processed, r.Succeeded, r.Skipped, r.Failed, r.FinishedAt.Sub(r.StartedAt))
}

// SweepService holds the time-driven batch routines. Each one selects its
// work with idempotent criteria, so an interrupted run is finished by the next.
type SweepService struct {
	DB         *gorm.DB
	Clock      clockwork.Clock
	Validation *ValidationService
	Decay      *DecayProcessor
	Notifier   Notifier
	cfg        config.ValidationConfig
	batchSize  int
}

func NewSweepService(db *gorm.DB, clock clockwork.Clock, validation *ValidationService, decay *DecayProcessor, notifier Notifier, cfg config.ValidationConfig, batchSize int) *SweepService {
	if batchSize <= 0 {
		batchSize = 500
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &SweepService{
		DB:         db,
		Clock:      clock,
		Validation: validation,
		Decay:      decay,
		Notifier:   notifier,
		cfg:        cfg,
		batchSize:  batchSize,
	}
}

// Run dispatches a sweep by kind.
func (s *SweepService) Run(ctx context.Context, kind SweepKind) (*SweepResult, error) {
	switch kind {
	case SweepReminders:
		return s.RunReminderSweep(ctx)
	case SweepAutoValidate:
		return s.RunAutoValidateSweep(ctx)
	case SweepDecay:
		return s.Decay.RunInactivityDecay(ctx)
	}
	return nil, validationf("unknown_sweep", "unknown sweep %q", kind)
}

// RunReminderSweep nudges the non-reporting player once per pending match
// after REMINDER_AFTER_HOURS. The stamp is claimed with a conditional update
// before sending, so a reminder is never sent twice.
func (s *SweepService) RunReminderSweep(ctx context.Context) (*SweepResult, error) {
	now := s.Clock.Now().UTC()
	res := newSweepResult(SweepReminders, now)
	cutoff := now.Add(-time.Duration(s.cfg.ReminderAfterHours) * time.Hour)

	var due []models.Match
	err := s.DB.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND created_at <= ?", models.MatchStatusPending, cutoff).
		Order("created_at ASC").
		Limit(s.batchSize).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select matches for reminders: %w", err)
	}

	for _, m := range due {
		if ctx.Err() != nil {
			break
		}
		res.Processed++

		upd := s.DB.WithContext(ctx).Model(&models.Match{}).
			Where("id = ? AND status = ? AND reminder_sent_at IS NULL", m.ID, models.MatchStatusPending).
			Updates(map[string]interface{}{"reminder_sent_at": now, "updated_at": now})
		if upd.Error != nil {
			res.fail(m.ID, upd.Error)
			continue
		}
		if upd.RowsAffected == 0 {
			res.Skipped++
			continue
		}

		notify(ctx, s.Notifier, m.NonReporter(), NotifyConfirmationNeeded, map[string]interface{}{
			"match_id":         m.ID,
			"reported_by":      m.ReportedBy,
			"score":            m.Score,
			"auto_validate_at": m.AutoValidateAt,
			"hours_remaining":  m.AutoValidateAt.Sub(now).Hours(),
		})
		res.Succeeded++
	}

	res.FinishedAt = s.Clock.Now().UTC()
	log.Printf("[Sweep] %s", res)
	return res, nil
}

// RunAutoValidateSweep finalizes every pending match past its deadline
// through the validation service's auto-validate path. Matches are taken a
// page at a time; ids already tried in this run are excluded from later
// pages, so items that keep failing cannot hide newer due matches.
func (s *SweepService) RunAutoValidateSweep(ctx context.Context) (*SweepResult, error) {
	now := s.Clock.Now().UTC()
	res := newSweepResult(SweepAutoValidate, now)
	var tried []string

	for ctx.Err() == nil {
		q := s.DB.WithContext(ctx).Model(&models.Match{}).
			Where("status = ? AND auto_validate_at <= ?", models.MatchStatusPending, now)
		if len(tried) > 0 {
			q = q.Where("id NOT IN ?", tried)
		}
		var ids []string
		err := q.Order("auto_validate_at ASC").Order("id ASC").
			Limit(s.batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, fmt.Errorf("failed to select matches for auto-validation: %w", err)
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			tried = append(tried, id)
			res.Processed++

			out, err := s.Validation.AutoValidate(ctx, id)
			switch {
			case err != nil:
				res.fail(id, err)
			case out.Outcome == OutcomeApplied:
				res.Succeeded++
			default:
				res.Skipped++
			}
		}
		if len(ids) < s.batchSize {
			break
		}
	}

	res.FinishedAt = s.Clock.Now().UTC()
	log.Printf("[Sweep] %s", res)
	return res, nil
}
