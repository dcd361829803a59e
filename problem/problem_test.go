package problem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeclanGolsen/Election-Analysis-Functions/simplexsearch"
)

const turnoutDoc = `{
  "name": "mayoral turnout",
  "groups": ["urban", "suburban", "rural"],
  "categories": ["smith", "jones", "other"],
  "shares": [[0.57, 0.40, 0.36], [0.23, 0.41, 0.11], [0.20, 0.19, 0.53]],
  "totals": [0.40, 0.25, 0.35],
  "trials": 1000,
  "seed": 42
}`

func TestParse(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(turnoutDoc))
	require.NoError(err)
	require.Equal("mayoral turnout", p.Name)
	require.Equal([]string{"urban", "suburban", "rural"}, p.Groups)
	require.Equal([]string{"smith", "jones", "other"}, p.Categories)
	require.Len(p.Shares, 3)
	require.Equal([]float64{0.57, 0.40, 0.36}, p.Shares[0])
	require.Equal([]float64{0.40, 0.25, 0.35}, p.Totals)
	require.Equal(1000, p.Trials)
	require.Equal(int64(42), p.Seed)
	require.Equal(SamplerSequential, p.Sampler, "sampler should default to sequential")
}

func TestParseMinimalDocument(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(`{"shares": [[1, 0], [0, 1]], "totals": [0.3, 0.7]}`))
	require.NoError(err)
	require.Empty(p.Groups)
	require.Zero(p.Trials, "trials should default to the searcher default")
	require.Zero(p.Seed)
	require.Equal("group 0", p.GroupLabel(0), "unlabeled columns get positional labels")
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"shares": [[0.5]]`},
		{"missing shares", `{"totals": [0.5]}`},
		{"shares row not array", `{"shares": [0.5], "totals": [0.5]}`},
		{"empty first row", `{"shares": [[]], "totals": [0.5]}`},
		{"ragged shares", `{"shares": [[0.5, 0.5], [0.2]], "totals": [0.4, 0.6]}`},
		{"totals length mismatch", `{"shares": [[0.5, 0.5]], "totals": [0.4, 0.6]}`},
		{"share out of range", `{"shares": [[1.5, 0.5]], "totals": [0.4]}`},
		{"negative total", `{"shares": [[0.5, 0.5]], "totals": [-0.1]}`},
		{"label count mismatch", `{"shares": [[0.5, 0.5]], "totals": [0.4], "groups": ["a"]}`},
		{"unknown sampler", `{"shares": [[0.5, 0.5]], "totals": [0.4], "sampler": "sorted"}`},
		{"zero trials", `{"shares": [[0.5, 0.5]], "totals": [0.4], "trials": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestRunFromDocument(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(turnoutDoc))
	require.NoError(err)

	res, err := p.Run()
	require.NoError(err)
	require.Len(res.Weights(), 3)
	require.Less(res.Score, 0.01, "1000 seeded trials should land close to the totals")

	// The document seed makes repeated runs identical.
	again, err := p.Run()
	require.NoError(err)
	require.Equal(res, again)
}

func TestRunHonorsSamplerMode(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(`{
	  "shares": [[1, 0], [0, 1]],
	  "totals": [0.3, 0.7],
	  "trials": 1000,
	  "seed": 13,
	  "sampler": "uniform"
	}`))
	require.NoError(err)
	require.Equal(SamplerUniform, p.Sampler)

	res, err := p.Run()
	require.NoError(err)
	require.InDelta(0.3, res.Weights()[0], 0.05)
	require.InDelta(0.7, res.Weights()[1], 0.05)
}

func TestSearcherExtraOptionsOverride(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(turnoutDoc))
	require.NoError(err)

	// Extra options apply after the document's own settings.
	res, err := p.Run(simplexsearch.WithTrials(1))
	require.NoError(err)
	require.Len(res.Best, 1)
	require.Equal(0, res.Best[0].Index)
}

func TestRender(t *testing.T) {
	require := require.New(t)

	p, err := Parse([]byte(turnoutDoc))
	require.NoError(err)

	res, err := p.Run()
	require.NoError(err)

	out := p.Render(res)
	require.Contains(out, "mayoral turnout")
	require.Contains(out, "urban")
	require.Contains(out, "rural")
	require.Contains(out, "residual score")
}
