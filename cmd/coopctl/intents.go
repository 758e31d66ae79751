package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coophub/coop-engine/config"
	"github.com/coophub/coop-engine/internal/application/command"
	"github.com/coophub/coop-engine/internal/application/query"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/infrastructure/messaging"
	"github.com/coophub/coop-engine/pkg/circuitbreaker"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/retry"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// app holds what intents run against.
type app struct {
	store         migratingStore
	bus           eventBus
	cache         query.ProgressCache
	log           *logger.Logger
	settings      command.Settings
	requiredHours int
	flags         *config.FeatureFlags

	// distributed is set when events fan out over Redis.
	distributed bool

	// clock is nil outside tests.
	clock func() time.Time
}

func (a *app) deps() command.Deps {
	return command.Deps{
		Store:     a.store,
		Publisher: a.bus,
		Logger:    a.log,
		Settings:  a.settings,
		Clock:     a.clock,
	}
}

// input is one parsed invocation.
type input struct {
	name  string
	Actor access.Actor
	Body  []byte

	ID         string
	Query      string
	Limit      int
	WithCounts bool
	Records    bool
	Filter     string
	All        bool
}

// decode reads the JSON body into v. An empty body leaves v untouched.
func (in input) decode(v any) error {
	if len(bytes.TrimSpace(in.Body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(in.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return shared.WrapError("coopctl", "Decode", shared.ErrInvalidInput, "malformed JSON arguments", err)
	}
	return nil
}

func queueIntent(kind query.QueueKind, what string) intent {
	return intent{
		summary: what + "; -all includes decided items, -student narrows",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			items, err := query.NewWorkQueueHandler(a.store).Handle(ctx, query.WorkQueueQuery{
				Actor:     in.Actor,
				Kind:      kind,
				All:       in.All,
				StudentID: shared.StudentID(in.ID),
			})
			return items, nil, err
		},
	}
}

// dateArg is a calendar date given as YYYY-MM-DD in the campus zone, or as
// an RFC 3339 timestamp.
type dateArg time.Time

func (d *dateArg) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = dateArg{}
		return nil
	}
	if t, err := timeutil.ParseDate(s); err == nil {
		*d = dateArg(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	*d = dateArg(t)
	return nil
}

// applyArgs overrides the command's dates with dateArg.
type applyArgs struct {
	command.ApplyForJobCommand
	StartDate dateArg `json:"start_date"`
	EndDate   dateArg `json:"end_date"`
}

// output is what a successful intent prints.
type output struct {
	Intent string      `json:"intent"`
	Result any         `json:"result"`
	Events []eventView `json:"events,omitempty"`
}

type eventView struct {
	Type        shared.EventType `json:"type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

func viewEvents(events []shared.Event) []eventView {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			Type:        e.EventType(),
			AggregateID: e.AggregateID(),
			OccurredAt:  e.OccurredAt(),
			Payload:     e.Payload(),
		})
	}
	return views
}

// ══════════════════════════════════════════════════════════════════════════════
// INTENTS
// ══════════════════════════════════════════════════════════════════════════════

type intent struct {
	summary string
	// mutates marks intents that are retried on concurrent modification.
	mutates bool
	run     func(ctx context.Context, a *app, in input) (any, []shared.Event, error)
}

var intents = map[string]intent{
	"migrate": {
		summary: "apply pending schema migrations",
		run: func(ctx context.Context, a *app, _ input) (any, []shared.Event, error) {
			n, err := a.store.Migrate(ctx)
			return map[string]int{"applied": n}, nil, err
		},
	},
	"flags": {
		summary: "list feature flags",
		run: func(_ context.Context, a *app, _ input) (any, []shared.Event, error) {
			return a.flags.GetAllFeatures(), nil, nil
		},
	},
	"status": {
		summary: "report event bus counters and the progress cache circuit",
		run: func(_ context.Context, a *app, _ input) (any, []shared.Event, error) {
			st := statusView{Distributed: a.distributed, Bus: a.bus.Metrics().Snapshot()}
			if g, ok := a.cache.(guardedCache); ok {
				b := g.Breaker()
				st.Cache = &breakerView{Name: b.Name(), State: b.State().String(), Counts: b.Counts()}
			}
			return st, nil, nil
		},
	},
	"submit-training": {
		summary: `student submits training hours {"topic","requested_hours","proof_ref"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.SubmitTrainingCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewSubmitTrainingHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Record, res.Events, nil
		},
	},
	"verify-training": {
		summary: `faculty decides a training record {"record_id","decision","approved_hours","note"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.VerifyTrainingCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewVerifyTrainingHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Record, res.Events, nil
		},
	},
	"apply": {
		summary: `student applies for a placement {"company_id"|"company_name","position","location",...}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var args applyArgs
			if err := in.decode(&args); err != nil {
				return nil, nil, err
			}
			cmd := args.ApplyForJobCommand
			cmd.Actor = in.Actor
			cmd.StartDate = time.Time(args.StartDate)
			cmd.EndDate = time.Time(args.EndDate)
			res, err := command.NewApplyForJobHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return map[string]any{
				"application":     res.Application,
				"company":         res.Company,
				"company_created": res.CompanyCreated,
				"approved_hours":  res.ApprovedHours,
			}, res.Events, nil
		},
	},
	"verify-job": {
		summary: `faculty decides an application {"application_id","decision","note"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.VerifyJobCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewVerifyJobHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Application, res.Events, nil
		},
	},
	"cancel-job": {
		summary: `student withdraws an application {"application_id","reason"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.CancelJobCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewCancelJobHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Application, res.Events, nil
		},
	},
	"submit-report": {
		summary: `student logs a week {"application_id","week_number","work_summary",...}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.SubmitWeeklyReportCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewSubmitWeeklyReportHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Report, res.Events, nil
		},
	},
	"ack-report": {
		summary: `faculty acknowledges a weekly report {"report_id","comment"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.AcknowledgeReportCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewAcknowledgeReportHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Report, res.Events, nil
		},
	},
	"submit-evaluation": {
		summary: `company evaluates an intern {"application_id","scores",...,"draft"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.SubmitEvaluationCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewSubmitEvaluationHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Evaluation, res.Events, nil
		},
	},
	"update-evaluation": {
		summary: `company revises an evaluation {"evaluation_id","scores",...,"submit"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.UpdateEvaluationCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewUpdateEvaluationHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return res.Evaluation, res.Events, nil
		},
	},
	"ack-evaluation": {
		summary: `faculty acknowledges an evaluation {"evaluation_id"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.AcknowledgeEvaluationCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewAcknowledgeEvaluationHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return map[string]any{
				"evaluation":  res.Evaluation,
				"application": res.Application,
				"changed":     res.Changed,
				"completed":   res.Completed,
			}, res.Events, nil
		},
	},
	"company-notes": {
		summary: `faculty replaces a company's notes {"company_id","comments"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.UpdateCompanyNotesCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			c, err := command.NewUpdateCompanyNotesHandler(a.deps()).Handle(ctx, cmd)
			return c, nil, err
		},
	},
	"merge-companies": {
		summary: `admin folds a duplicate company into another {"source_id","target_id"}`,
		mutates: true,
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			var cmd command.MergeCompaniesCommand
			if err := in.decode(&cmd); err != nil {
				return nil, nil, err
			}
			cmd.Actor = in.Actor
			res, err := command.NewMergeCompaniesHandler(a.deps()).Handle(ctx, cmd)
			if err != nil {
				return nil, nil, err
			}
			return map[string]any{"target": res.Target, "moved": res.Moved}, res.Events, nil
		},
	},
	"progress": {
		summary: "training progress of -student (students default to themselves); -records lists records",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			h := query.NewGetTrainingProgressHandler(a.store, a.cache, a.requiredHours, a.log)
			dto, err := h.Handle(ctx, query.GetTrainingProgressQuery{
				Actor:          in.Actor,
				StudentID:      shared.StudentID(in.ID),
				IncludeRecords: in.Records,
			})
			return dto, nil, err
		},
	},
	"search-companies": {
		summary: "company directory lookup by -q, at most -limit rows; -counts adds placement counts",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			rows, err := query.NewSearchCompaniesHandler(a.store).Handle(ctx, query.SearchCompaniesQuery{
				Actor:      in.Actor,
				Query:      in.Query,
				Limit:      in.Limit,
				WithCounts: in.WithCounts,
			})
			return rows, nil, err
		},
	},
	"interns": {
		summary: "interns placed at -company (company accounts default to their own)",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			companyID := shared.CompanyID(in.ID)
			if companyID == "" {
				companyID = in.Actor.CompanyID
			}
			rows, err := query.NewListCompanyInternsHandler(a.store).Handle(ctx, query.ListCompanyInternsQuery{
				Actor:     in.Actor,
				CompanyID: companyID,
			})
			return rows, nil, err
		},
	},
	"students": {
		summary: "faculty student list with hours and current job; -filter narrows, -q matches ids",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			rows, err := query.NewListStudentsHandler(a.store, a.requiredHours).Handle(ctx, query.ListStudentsQuery{
				Actor:  in.Actor,
				Filter: query.StudentFilter(in.Filter),
				Search: in.Query,
			})
			return rows, nil, err
		},
	},
	"student": {
		summary: "faculty view of -student: training, job history, current reports and evaluation",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			dto, err := query.NewGetStudentDetailHandler(a.store, a.requiredHours).Handle(ctx, query.GetStudentDetailQuery{
				Actor:     in.Actor,
				StudentID: shared.StudentID(in.ID),
			})
			return dto, nil, err
		},
	},
	"queue-training":    queueIntent(query.QueueTraining, "training records awaiting verification"),
	"queue-jobs":        queueIntent(query.QueueJobs, "job applications awaiting a decision"),
	"queue-reports":     queueIntent(query.QueueReports, "weekly reports not yet acknowledged"),
	"queue-evaluations": queueIntent(query.QueueEvaluations, "evaluations not yet acknowledged"),
	"reports": {
		summary: "weekly reports of application -id",
		run: func(ctx context.Context, a *app, in input) (any, []shared.Event, error) {
			dto, err := query.NewListReportsHandler(a.store).Handle(ctx, query.ListReportsQuery{
				Actor:         in.Actor,
				ApplicationID: in.ID,
			})
			return dto, nil, err
		},
	},
	"listen": {
		summary: "stay subscribed to the shared event channel and invalidate cached progress until interrupted",
		run: func(ctx context.Context, a *app, _ input) (any, []shared.Event, error) {
			if !a.distributed {
				a.log.Warn("listening without redis: only events of this process are seen")
			}
			var seen atomic.Int64
			if err := a.bus.SubscribeAll(func(e shared.Event) error {
				seen.Add(1)
				a.log.Info("event received",
					logger.String("event_type", string(e.EventType())),
					logger.String("aggregate_id", e.AggregateID()),
				)
				return nil
			}); err != nil {
				return nil, nil, err
			}
			<-ctx.Done()
			return listenResult{Events: seen.Load(), Bus: a.bus.Metrics().Snapshot()}, nil, nil
		},
	},
}

// guardedCache is a progress cache behind a circuit breaker.
type guardedCache interface {
	Breaker() *circuitbreaker.CircuitBreaker
}

type breakerView struct {
	Name   string                `json:"name"`
	State  string                `json:"state"`
	Counts circuitbreaker.Counts `json:"counts"`
}

type statusView struct {
	Distributed bool                              `json:"distributed"`
	Bus         messaging.EventBusMetricsSnapshot `json:"bus"`
	Cache       *breakerView                      `json:"cache,omitempty"`
}

type listenResult struct {
	Events int64                             `json:"events"`
	Bus    messaging.EventBusMetricsSnapshot `json:"bus"`
}

// Backoff for intents that lost a race on the database.
const (
	retryAttempts     = 3
	retryInitialDelay = 20 * time.Millisecond
	retryMaxDelay     = 250 * time.Millisecond
	retryJitter       = 0.5
)

// execute runs it, retrying intents that lost a race on the database.
func (a *app) execute(ctx context.Context, it intent, in input) (*output, error) {
	attempts := 1
	if it.mutates {
		attempts = retryAttempts
	}
	var events []shared.Event
	result, err := retry.DoWithData(ctx, func(ctx context.Context) (any, error) {
		res, evs, err := it.run(ctx, a, in)
		events = evs
		return res, err
	},
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(retryInitialDelay),
		retry.WithMaxDelay(retryMaxDelay),
		retry.WithJitter(retryJitter),
		retry.WithRetryIf(shared.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			a.log.Warn("retrying after concurrent modification",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		return nil, err
	}
	return &output{Intent: in.name, Result: result, Events: viewEvents(events)}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ARGUMENTS AND OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

func parseInput(name string, args []string, stdin io.Reader) (input, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		role     = fs.String("role", "", "actor role: STUDENT, TEACHER, COMPANY or ADMIN")
		user     = fs.String("user", "", "actor user id")
		student  = fs.String("student", "", "student id (the actor's own for students, the target otherwise)")
		company  = fs.String("company", "", "company id (the actor's own for company accounts, the target otherwise)")
		inline   = fs.String("json", "", "JSON arguments")
		argsFile = fs.String("args", "", "file holding JSON arguments, - for stdin")
		id       = fs.String("id", "", "target id")
		q        = fs.String("q", "", "search text")
		limit    = fs.Int("limit", 20, "maximum rows")
		counts   = fs.Bool("counts", false, "include placement counts")
		records  = fs.Bool("records", false, "include training records")
		filter   = fs.String("filter", "", "student list filter: TRAINING_NOT_PASS, JOB_WAITING or JOB_APPROVED")
		all      = fs.Bool("all", false, "include decided items in a work queue")
	)
	if err := fs.Parse(args); err != nil {
		return input{}, err
	}
	if fs.NArg() > 0 {
		return input{}, fmt.Errorf("unexpected arguments %v", fs.Args())
	}

	in := input{
		name:       name,
		ID:         *id,
		Query:      *q,
		Limit:      *limit,
		WithCounts: *counts,
		Records:    *records,
		Filter:     *filter,
		All:        *all,
	}

	if *role != "" {
		r, err := access.ParseRole(strings.ToUpper(*role))
		if err != nil {
			return input{}, err
		}
		in.Actor = access.Actor{UserID: *user, Role: r}
		switch r {
		case access.RoleStudent:
			in.Actor.StudentID = shared.StudentID(*student)
		case access.RoleCompany:
			in.Actor.CompanyID = shared.CompanyID(*company)
		}
		if in.Actor.UserID == "" {
			in.Actor.UserID = string(in.Actor.StudentID) + string(in.Actor.CompanyID)
		}
	}
	if in.ID == "" {
		switch name {
		case "progress", "student", "queue-training", "queue-jobs", "queue-reports", "queue-evaluations":
			in.ID = *student
		case "interns":
			in.ID = *company
		}
	}

	switch {
	case *inline != "" && *argsFile != "":
		return input{}, errors.New("-json and -args are mutually exclusive")
	case *inline != "":
		in.Body = []byte(*inline)
	case *argsFile == "-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return input{}, fmt.Errorf("read stdin: %w", err)
		}
		in.Body = body
	case *argsFile != "":
		body, err := os.ReadFile(*argsFile)
		if err != nil {
			return input{}, err
		}
		in.Body = body
	}
	return in, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeError prints the error kind and message.
func writeError(w io.Writer, err error) {
	_ = writeJSON(w, map[string]any{
		"error": map[string]string{
			"kind":    shared.KindOf(err),
			"message": err.Error(),
		},
	})
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: coopctl <intent> [-role R -user U -student S -company C] [-json '{...}' | -args FILE] [-id ID -q TEXT -limit N -counts -records]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-18s %s\n", name, intents[name].summary)
	}
}
