package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/config"
	"github.com/coophub/coop-engine/internal/application/command"
	"github.com/coophub/coop-engine/internal/application/query"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/internal/infrastructure/messaging"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/redis"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/sqlite"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

func newApp(t *testing.T) *app {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		EnableMetrics: true,
	})
	t.Cleanup(func() { _ = bus.Close() })

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	return &app{
		store:         store,
		bus:           bus,
		log:           logger.Nop(),
		settings:      command.DefaultSettings(),
		requiredHours: 30,
		flags:         config.LoadFeatureFlags(),
		clock:         func() time.Time { return now },
	}
}

// do parses args as a command line and runs the intent.
func do(t *testing.T, a *app, args ...string) (*output, error) {
	t.Helper()
	in, err := parseInput(args[0], args[1:], strings.NewReader(""))
	require.NoError(t, err)
	it, ok := intents[args[0]]
	require.True(t, ok, args[0])
	return a.execute(context.Background(), it, in)
}

func mustDo(t *testing.T, a *app, args ...string) *output {
	t.Helper()
	out, err := do(t, a, args...)
	require.NoError(t, err)
	return out
}

func grantHours(t *testing.T, a *app, student string, hours int) {
	t.Helper()
	out := mustDo(t, a, "submit-training", "-role", "student", "-student", student,
		"-json", fmt.Sprintf(`{"topic":"Safety","requested_hours":%d,"proof_ref":"cert.pdf"}`, hours))
	rec := out.Result.(*training.Record)
	mustDo(t, a, "verify-training", "-role", "teacher", "-user", "t1",
		"-json", fmt.Sprintf(`{"record_id":%q,"decision":"APPROVED"}`, rec.ID))
}

const applyBody = `{"company_name":"Acme Corp","position":"Backend intern","location":"Bangkok",
	"supervisor_name":"K. Somchai","start_date":"2025-06-02T00:00:00Z","end_date":"2025-09-30T00:00:00Z"}`

func TestIntents_EligibilityScenario(t *testing.T) {
	a := newApp(t)
	grantHours(t, a, "6510110001", 6)
	grantHours(t, a, "6510110001", 4)

	_, err := do(t, a, "apply", "-role", "STUDENT", "-student", "6510110001", "-json", applyBody)
	require.Error(t, err)
	assert.True(t, shared.IsIneligible(err))
	assert.Contains(t, err.Error(), "20 more hours needed")

	out := mustDo(t, a, "progress", "-role", "student", "-student", "6510110001")
	progress := out.Result.(*query.ProgressDTO)
	assert.Equal(t, 10, progress.ApprovedHours)

	grantHours(t, a, "6510110001", 20)
	out = mustDo(t, a, "apply", "-role", "student", "-student", "6510110001", "-json", applyBody)
	result := out.Result.(map[string]any)
	appl := result["application"].(*placement.Application)
	assert.Equal(t, placement.StatusPending, appl.Status)
	assert.Equal(t, true, result["company_created"])
	require.Len(t, out.Events, 1)
	assert.Equal(t, shared.EventPlacementApplied, out.Events[0].Type)
}

func TestIntents_ApplyAcceptsCalendarDates(t *testing.T) {
	a := newApp(t)
	grantHours(t, a, "6510110005", 30)
	out := mustDo(t, a, "apply", "-role", "student", "-student", "6510110005", "-json",
		`{"company_name":"Acme Corp","position":"Backend intern","location":"Bangkok",
		"supervisor_name":"K. Somchai","start_date":"2025-04-28","end_date":"2025-09-30"}`)
	appl := out.Result.(map[string]any)["application"].(*placement.Application)
	assert.Equal(t, "2025-04-28", timeutil.FormatDateStr(appl.StartDate))
	assert.Equal(t, "2025-09-30", timeutil.FormatDateStr(appl.EndDate))
	assert.Equal(t, 156, appl.DurationDays())

	_, err := do(t, a, "apply", "-role", "student", "-student", "6510110006", "-json",
		`{"company_name":"Acme Corp","position":"p","location":"l","supervisor_name":"s",
		"start_date":"28/04/2025","end_date":"2025-09-30"}`)
	assert.True(t, shared.IsValidation(err))
}

func TestIntents_FacultyOverviewAndQueues(t *testing.T) {
	a := newApp(t)
	grantHours(t, a, "6510110007", 30)
	mustDo(t, a, "apply", "-role", "student", "-student", "6510110007", "-json", applyBody)
	mustDo(t, a, "submit-training", "-role", "student", "-student", "6510110008",
		"-json", `{"topic":"First aid","requested_hours":6,"proof_ref":"aid.pdf"}`)

	out := mustDo(t, a, "students", "-role", "teacher", "-filter", "JOB_WAITING")
	rows := out.Result.([]query.StudentRowDTO)
	require.Len(t, rows, 1)
	assert.Equal(t, "6510110007", rows[0].StudentID)
	assert.True(t, rows[0].Passed)

	out = mustDo(t, a, "students", "-role", "teacher", "-filter", "TRAINING_NOT_PASS")
	rows = out.Result.([]query.StudentRowDTO)
	require.Len(t, rows, 1)
	assert.Equal(t, "6510110008", rows[0].StudentID)

	out = mustDo(t, a, "student", "-role", "teacher", "-student", "6510110007")
	detail := out.Result.(*query.StudentDetailDTO)
	assert.Equal(t, 30, detail.ApprovedHours)
	require.NotNil(t, detail.Current)
	assert.Equal(t, placement.StatusPending, detail.Current.Status)

	out = mustDo(t, a, "queue-jobs", "-role", "teacher")
	jobs := out.Result.([]query.QueueItemDTO)
	require.Len(t, jobs, 1)
	assert.Equal(t, detail.Current.ID, jobs[0].ID)

	out = mustDo(t, a, "queue-training", "-role", "teacher")
	assert.Len(t, out.Result.([]query.QueueItemDTO), 1)
	out = mustDo(t, a, "queue-training", "-role", "teacher", "-all", "-student", "6510110007")
	assert.Len(t, out.Result.([]query.QueueItemDTO), 1)

	_, err := do(t, a, "queue-reports", "-role", "student", "-student", "6510110007")
	assert.True(t, shared.IsForbidden(err))
}

func TestIntents_InternsDefaultsToOwnCompany(t *testing.T) {
	a := newApp(t)
	grantHours(t, a, "6510110002", 30)
	out := mustDo(t, a, "apply", "-role", "student", "-student", "6510110002", "-json", applyBody)
	result := out.Result.(map[string]any)
	appl := result["application"].(*placement.Application)
	mustDo(t, a, "verify-job", "-role", "admin", "-user", "root",
		"-json", fmt.Sprintf(`{"application_id":%q,"decision":"APPROVED"}`, appl.ID))

	companyID := string(*appl.CompanyID)
	out = mustDo(t, a, "interns", "-role", "company", "-company", companyID)
	interns := out.Result.([]query.InternDTO)
	require.Len(t, interns, 1)

	_, err := do(t, a, "interns", "-role", "company", "-company", "someone-else", "-id", companyID)
	assert.True(t, shared.IsForbidden(err))
}

func TestIntents_ListenReportsBusMetrics(t *testing.T) {
	a := newApp(t)
	grantHours(t, a, "6510110003", 6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, events, err := intents["listen"].run(ctx, a, input{})
	require.NoError(t, err)
	assert.Empty(t, events)

	got := res.(listenResult)
	assert.Zero(t, got.Events)
	assert.EqualValues(t, 2, got.Bus.TotalPublished, "training submitted and verified")
}

type missCache struct{ gets int }

func (c *missCache) GetProgress(context.Context, string) (*query.ProgressDTO, error) {
	c.gets++
	return nil, redis.ErrCacheMiss
}

func (c *missCache) SetProgress(context.Context, *query.ProgressDTO) error { return nil }
func (c *missCache) InvalidateProgress(context.Context, string) error      { return nil }

func TestIntents_StatusReportsCacheCircuit(t *testing.T) {
	a := newApp(t)
	out := mustDo(t, a, "status")
	st := out.Result.(statusView)
	assert.False(t, st.Distributed)
	assert.Nil(t, st.Cache)

	inner := &missCache{}
	a.cache = redis.NewGuardedProgressCache(inner, nil)
	mustDo(t, a, "progress", "-role", "student", "-student", "6510110004")
	assert.Equal(t, 1, inner.gets)

	out = mustDo(t, a, "status")
	st = out.Result.(statusView)
	require.NotNil(t, st.Cache)
	assert.Equal(t, "redis-cache", st.Cache.Name)
	assert.Equal(t, "closed", st.Cache.State)
	assert.Equal(t, 2, st.Cache.Counts.Requests, "one read, one write")
	assert.Zero(t, st.Cache.Counts.TotalFailures)
}

func TestIntents_RejectsMalformedJSON(t *testing.T) {
	a := newApp(t)

	_, err := do(t, a, "submit-training", "-role", "student", "-student", "s1", "-json", `{"topic":`)
	assert.True(t, shared.IsValidation(err))

	_, err = do(t, a, "submit-training", "-role", "student", "-student", "s1", "-json", `{"hours":3}`)
	assert.True(t, shared.IsValidation(err), "unknown fields are rejected")
}

func TestParseInput(t *testing.T) {
	in, err := parseInput("progress", []string{"-role", "teacher", "-user", "t1", "-student", "6510110001", "-records"}, nil)
	require.NoError(t, err)
	assert.Equal(t, access.Actor{UserID: "t1", Role: access.RoleTeacher}, in.Actor)
	assert.Equal(t, "6510110001", in.ID)
	assert.True(t, in.Records)

	in, err = parseInput("cancel-job", []string{"-role", "student", "-student", "s1", "-args", "-"},
		strings.NewReader(`{"application_id":"a1"}`))
	require.NoError(t, err)
	assert.Equal(t, shared.StudentID("s1"), in.Actor.StudentID)
	assert.Equal(t, "s1", in.Actor.UserID)
	assert.JSONEq(t, `{"application_id":"a1"}`, string(in.Body))

	_, err = parseInput("apply", []string{"-role", "dean"}, nil)
	assert.Error(t, err)
	_, err = parseInput("apply", []string{"-json", "{}", "-args", "x.json"}, nil)
	assert.Error(t, err)
	_, err = parseInput("apply", []string{"stray"}, nil)
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	writeError(&buf, shared.ErrAlreadyCancelled)

	var got struct {
		Error struct{ Kind, Message string }
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "InvalidStateError", got.Error.Kind)
	assert.Contains(t, got.Error.Message, "application already cancelled")
}

func TestPrintUsage_ListsEveryIntent(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	for name := range intents {
		assert.Contains(t, buf.String(), name)
	}
}
