package evaluation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// Rubric shape: five sections of three criteria, each scored 0..5.
const (
	Sections      = 5
	PerSection    = 3
	CriteriaCount = Sections * PerSection
	MinScore      = 0
	MaxScore      = 5
	MaxTotal      = CriteriaCount * MaxScore
)

// Criteria are the rubric keys in storage order.
var Criteria = [CriteriaCount]string{
	"q1_1", "q1_2", "q1_3", // work results
	"q2_1", "q2_2", "q2_3", // knowledge and ability
	"q3_1", "q3_2", "q3_3", // responsibility
	"q4_1", "q4_2", "q4_3", // personal traits
	"q5_1", "q5_2", "q5_3", // organisational engagement
}

var criterionIndex = func() map[string]int {
	m := make(map[string]int, CriteriaCount)
	for i, k := range Criteria {
		m[k] = i
	}
	return m
}()

// Rubric holds one score per criterion, indexed like Criteria.
type Rubric [CriteriaCount]int

// Total is the sum of every criterion.
func (r Rubric) Total() int {
	sum := 0
	for _, v := range r {
		sum += v
	}
	return sum
}

// Validate checks every score is within range.
func (r Rubric) Validate() error {
	for i, v := range r {
		if v < MinScore || v > MaxScore {
			return shared.Errorf("evaluation", "Score", shared.ErrValueOutOfRange,
				"%s must be between %d and %d, got %d", Criteria[i], MinScore, MaxScore, v)
		}
	}
	return nil
}

// Get returns the score for a criterion key.
func (r Rubric) Get(key string) (int, bool) {
	i, ok := criterionIndex[key]
	if !ok {
		return 0, false
	}
	return r[i], true
}

// Merge returns a copy of r with patch applied. Criteria absent from patch
// keep their current value.
func (r Rubric) Merge(patch map[string]int) (Rubric, error) {
	out := r
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		i, ok := criterionIndex[k]
		if !ok {
			return r, shared.Errorf("evaluation", "Score", shared.ErrValidation, "unknown criterion %q", k)
		}
		out[i] = patch[k]
	}
	if err := out.Validate(); err != nil {
		return r, err
	}
	return out, nil
}

// Map renders the rubric keyed by criterion.
func (r Rubric) Map() map[string]int {
	m := make(map[string]int, CriteriaCount)
	for i, k := range Criteria {
		m[k] = r[i]
	}
	return m
}

// MarshalJSON renders the rubric as a criterion-keyed object.
func (r Rubric) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON accepts a criterion-keyed object.
func (r *Rubric) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := ParseScores(m)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Section returns the three scores of a 1-based section.
func (r Rubric) Section(n int) ([PerSection]int, error) {
	var out [PerSection]int
	if n < 1 || n > Sections {
		return out, fmt.Errorf("section %d out of range", n)
	}
	copy(out[:], r[(n-1)*PerSection:n*PerSection])
	return out, nil
}

// ParseScores builds a rubric from a key map; missing criteria are zero.
func ParseScores(scores map[string]int) (Rubric, error) {
	return Rubric{}.Merge(scores)
}
