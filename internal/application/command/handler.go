// Package command contains write operations (CQRS - Commands).
//
// Every handler follows the same shape: authorize the actor, validate the
// command, run the state checks and writes inside one Store.Atomic call, then
// publish the collected events once the transaction has committed.
package command

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings are the workflow knobs handlers read from configuration.
type Settings struct {
	// RequiredHours is the approved training hours needed to apply.
	RequiredHours int

	// Calendar stamps the academic year on new applications.
	Calendar timeutil.AcademicCalendar

	// EnforceHourCeiling rejects approved hours above the requested hours.
	EnforceHourCeiling bool

	// LockReportAfterAck turns re-acknowledging a report into an error.
	LockReportAfterAck bool
}

// DefaultSettings returns the stock workflow rules.
func DefaultSettings() Settings {
	return Settings{
		RequiredHours: training.DefaultRequiredHours,
		Calendar:      timeutil.DefaultAcademicCalendar(),
	}
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Store     uow.Store
	Publisher shared.EventPublisher
	Logger    *logger.Logger
	Settings  Settings

	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// handler is embedded by every command handler.
type handler struct {
	store     uow.Store
	publisher shared.EventPublisher
	log       *logger.Logger
	settings  Settings
	clock     func() time.Time
}

func newHandler(d Deps, op string) handler {
	h := handler{
		store:     d.Store,
		publisher: d.Publisher,
		log:       d.Logger,
		settings:  d.Settings,
		clock:     d.Clock,
	}
	if h.publisher == nil {
		h.publisher = shared.NopPublisher{}
	}
	if h.log == nil {
		h.log = logger.Default()
	}
	h.log = h.log.With(logger.Component("command"), logger.Operation(op))
	if h.settings.RequiredHours <= 0 {
		h.settings.RequiredHours = training.DefaultRequiredHours
	}
	if h.settings.Calendar.StartMonth == 0 {
		h.settings.Calendar = timeutil.DefaultAcademicCalendar()
	}
	if h.clock == nil {
		h.clock = func() time.Time { return time.Now().UTC() }
	}
	return h
}

func (h handler) now() time.Time {
	return h.clock()
}

// publish sends events after commit. Delivery failures are logged only; the
// state change has already happened.
func (h handler) publish(events []shared.Event) {
	for _, event := range events {
		if err := h.publisher.Publish(event); err != nil {
			h.log.Warn("event publish failed",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// reject logs a refused intent and passes the error through.
func (h handler) reject(actor access.Actor, err error) error {
	h.log.Warn("intent rejected",
		logger.Role(string(actor.Role)),
		logger.String("actor", actor.String()),
		logger.String("kind", shared.KindOf(err)),
		logger.Err(err),
	)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

// validateCommand checks struct tags and reports the first failing field as
// an ErrValidation domain error.
func validateCommand(domain, op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return shared.Errorf(domain, op, shared.ErrValidation, "%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return shared.Errorf(domain, op, shared.ErrValidation, "%s failed %s", fe.Field(), fe.Tag())
	}
	return shared.WrapError(domain, op, shared.ErrValidation, "invalid command", err)
}
