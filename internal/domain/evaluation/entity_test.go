package evaluation

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

func fullScores(v int) map[string]int {
	m := make(map[string]int, CriteriaCount)
	for _, k := range Criteria {
		m[k] = v
	}
	return m
}

func TestRubric_TotalMatchesSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		scores := map[string]int{}
		want := 0
		for _, k := range Criteria {
			if rng.Intn(3) == 0 {
				continue
			}
			v := rng.Intn(MaxScore + 1)
			scores[k] = v
			want += v
		}
		e, err := NewEvaluation("job", "u", scores, Narrative{}, false, time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, e.TotalScore)
		assert.Equal(t, e.Scores.Total(), e.TotalScore)
	}
}

func TestRubric_Bounds(t *testing.T) {
	r, err := ParseScores(fullScores(MaxScore))
	require.NoError(t, err)
	assert.Equal(t, MaxTotal, r.Total())
	assert.Equal(t, 75, MaxTotal)

	_, err = ParseScores(map[string]int{"q1_1": 6})
	assert.True(t, shared.IsValidation(err))
	_, err = ParseScores(map[string]int{"q5_3": -1})
	assert.True(t, shared.IsValidation(err))
	_, err = ParseScores(map[string]int{"q6_1": 1})
	assert.True(t, shared.IsValidation(err))

	sec, err := r.Section(5)
	require.NoError(t, err)
	assert.Equal(t, [PerSection]int{5, 5, 5}, sec)
	_, err = r.Section(6)
	assert.Error(t, err)
}

func TestRubric_JSON(t *testing.T) {
	r, err := ParseScores(map[string]int{"q2_3": 4})
	require.NoError(t, err)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"q2_3":4`)

	var back Rubric
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r, back)
}

func TestUpdate_MergesPartialScores(t *testing.T) {
	e, err := NewEvaluation("job", "u", fullScores(3), Narrative{Strengths: "fast"}, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, e.Status)
	assert.Equal(t, 45, e.TotalScore)

	weak := "tests"
	require.NoError(t, e.Update(map[string]int{"q1_1": 5}, NarrativePatch{
		Weaknesses:      &weak,
		SectionComments: map[int]string{2: "solid"},
	}, false, time.Now()))
	assert.Equal(t, 47, e.TotalScore)
	v, _ := e.Scores.Get("q1_2")
	assert.Equal(t, 3, v, "unspecified criteria keep their value")
	assert.Equal(t, "fast", e.Strengths)
	assert.Equal(t, "tests", e.Weaknesses)
	assert.Equal(t, "solid", e.SectionComments[1])
	assert.Equal(t, StatusDraft, e.Status)

	require.NoError(t, e.Update(nil, NarrativePatch{}, true, time.Now()))
	assert.Equal(t, StatusSubmitted, e.Status)

	err = e.Update(map[string]int{"q1_1": 9}, NarrativePatch{}, false, time.Now())
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 47, e.TotalScore)
}

func TestAcknowledge(t *testing.T) {
	draft, _ := NewEvaluation("job", "u", nil, Narrative{}, true, time.Now())
	_, err := draft.Acknowledge(time.Now())
	assert.True(t, shared.IsInvalidState(err))

	e, _ := NewEvaluation("job", "u", fullScores(4), Narrative{}, false, time.Now())
	changed, err := e.Acknowledge(time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusApproved, e.Status)
	assert.Equal(t, AckAcknowledged, e.AckStatus)
	require.NotNil(t, e.AcknowledgedAt)
	first := *e.AcknowledgedAt

	changed, err = e.Acknowledge(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, *e.AcknowledgedAt)

	err = e.Update(map[string]int{"q1_1": 1}, NarrativePatch{}, false, time.Now())
	assert.True(t, shared.IsForbidden(err))
	assert.Contains(t, err.Error(), "already acknowledged by faculty")
}
