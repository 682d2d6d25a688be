package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (s *stubCompleter) Complete(_ context.Context, system, user string) (string, error) {
	s.calls++
	s.system = system
	s.user = user
	return s.reply, s.err
}

func TestParse(t *testing.T) {
	rec, err := Parse(`{"evaluation": [
		{"kpi_number": 1, "description": "Greeting", "score": 4, "penalty": false, "justification": "ok"},
		{"kpi_number": 2, "description": "Caller ID", "score": 2, "penalty": true, "justification": "skipped"}
	]}`)
	require.NoError(t, err)
	require.Len(t, rec, 2)

	assert.Equal(t, 1, rec[0].KPINumber)
	assert.Equal(t, "Greeting", rec[0].Description)
	assert.Equal(t, 4.0, rec[0].ScoreOr(0))
	assert.False(t, rec[0].Penalty)
	assert.True(t, rec[1].Penalty)
	assert.Equal(t, "skipped", rec[1].Justification)
}

func TestParseRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"not json":        `Sure! Here is the evaluation`,
		"missing key":     `{"results": []}`,
		"object":          `{"evaluation": {"kpi_number": 1}}`,
		"string":          `{"evaluation": "none"}`,
		"null":            `{"evaluation": null}`,
		"top-level array": `[{"kpi_number": 1}]`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := Parse(in)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "got %v", err)
			assert.Nil(t, rec)
		})
	}
}

func TestParseDropsNonObjectEntries(t *testing.T) {
	rec, err := Parse(`{"evaluation": [{"kpi_number": 1, "score": 5}, 7, null, "x", {"kpi_number": 2, "score": 1}]}`)
	require.NoError(t, err)
	require.Len(t, rec, 2)
	assert.Equal(t, 1, rec[0].KPINumber)
	assert.Equal(t, 2, rec[1].KPINumber)
}

func TestNullScoreIsMissing(t *testing.T) {
	rec, err := DecodeHistory([]byte(`[{"kpi_number": 3, "score": null}, {"kpi_number": null, "score": 2}]`))
	require.NoError(t, err)
	require.Len(t, rec, 2)
	assert.Nil(t, rec[0].Score)
	assert.False(t, rec[0].IsMistake())
	assert.Equal(t, 0, rec[1].KPINumber)

	// an unscored item survives a store round trip
	b, err := json.Marshal(Record{{KPINumber: 3}})
	require.NoError(t, err)
	back, err := DecodeHistory(b)
	require.NoError(t, err)
	assert.Nil(t, back[0].Score)
}

func TestParseEmptyList(t *testing.T) {
	rec, err := Parse(`{"evaluation": []}`)
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestKPIScoreLenientFields(t *testing.T) {
	rec, err := Parse(`{"evaluation": [
		{"kpi_number": "3", "score": "2.5", "penalty": "Yes"},
		{"kpi_number": 4, "score": "n/a", "penalty": true},
		{"kpi_number": 5.5, "description": 12}
	]}`)
	require.NoError(t, err)

	assert.Equal(t, 3, rec[0].KPINumber)
	assert.Equal(t, 2.5, rec[0].ScoreOr(MaxScore))
	assert.False(t, rec[0].Penalty)

	assert.Nil(t, rec[1].Score)
	assert.Equal(t, MaxScore, rec[1].ScoreOr(MaxScore))
	assert.True(t, rec[1].IsMistake())

	assert.Equal(t, 0, rec[2].KPINumber)
	assert.Equal(t, "12", rec[2].Description)
	assert.False(t, rec[2].IsMistake())
}

func TestDecodeHistory(t *testing.T) {
	rec, err := DecodeHistory([]byte(`[{"kpi_number": 1, "score": 2}, "junk", null, {"kpi_number": 2}]`))
	require.NoError(t, err)
	require.Len(t, rec, 2)
	assert.Equal(t, 1, rec[0].KPINumber)
	assert.Equal(t, 2, rec[1].KPINumber)

	rec, err = DecodeHistory([]byte(`"[{\"kpi_number\": 9, \"score\": 1}]"`))
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, 9, rec[0].KPINumber)

	_, err = DecodeHistory([]byte(`{"kpi_number": 1}`))
	assert.Error(t, err)
	_, err = DecodeHistory([]byte(`null`))
	assert.Error(t, err)
}

func TestEvaluatorSendsRubric(t *testing.T) {
	backend := &stubCompleter{reply: `{"evaluation": [{"kpi_number": 7, "score": 5, "penalty": false}]}`}
	rec, err := NewEvaluator(backend).Evaluate(context.Background(), "Good morning, Pinnaca Retail Solutions")
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, 7, rec[0].KPINumber)

	assert.Equal(t, SystemPrompt, backend.system)
	assert.Contains(t, backend.user, `"""`+"\nGood morning, Pinnaca Retail Solutions\n"+`"""`)
	for i, kpi := range KPIs {
		assert.Contains(t, backend.system, kpi, "kpi %d", i+1)
	}
	assert.Contains(t, backend.system, "16. Clear and concise communication with the customer.")
}

func TestEvaluatorBackendError(t *testing.T) {
	backend := &stubCompleter{err: errors.New("rate limited")}
	_, err := NewEvaluator(backend).Evaluate(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	var pe *ParseError
	assert.False(t, errors.As(err, &pe))
}

func TestEvaluatorMalformedReply(t *testing.T) {
	backend := &stubCompleter{reply: `{"evaluation": "n/a"}`}
	_, err := NewEvaluator(backend).Evaluate(context.Background(), "hi")
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestRubricHasSixteenItems(t *testing.T) {
	assert.Len(t, KPIs, 16)
	assert.True(t, ValidKPI(1))
	assert.True(t, ValidKPI(16))
	assert.False(t, ValidKPI(0))
	assert.False(t, ValidKPI(17))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(SystemPrompt), "You are a call quality assurance evaluator"))
}
