// Package problem loads share/total datasets from JSON documents and bridges
// them to the simplexsearch package. A document carries the category-by-group
// share table, the observed totals, optional labels, and optional search
// settings:
//
//	{
//	  "name": "mayoral turnout",
//	  "groups": ["urban", "suburban", "rural"],
//	  "categories": ["smith", "jones", "other"],
//	  "shares": [[0.57, 0.40, 0.36], [0.23, 0.41, 0.11], [0.20, 0.19, 0.53]],
//	  "totals": [0.40, 0.25, 0.35],
//	  "trials": 1000,
//	  "seed": 42,
//	  "sampler": "sequential"
//	}
package problem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/DeclanGolsen/Election-Analysis-Functions/simplexsearch"
)

// ErrInvalidDocument reports a malformed or internally inconsistent problem
// document.
var ErrInvalidDocument = errors.New("problem: invalid document")

// Sampler mode names accepted in the "sampler" field.
const (
	SamplerSequential = "sequential"
	SamplerUniform    = "uniform"
)

// Problem is a fully validated dataset plus its search settings. Zero-valued
// settings fall back to the simplexsearch defaults.
type Problem struct {
	Name       string
	Groups     []string    // column labels, empty when the document has none
	Categories []string    // row labels, empty when the document has none
	Shares     [][]float64 // categories x groups
	Totals     []float64   // one aggregate proportion per category
	Trials     int
	Seed       int64
	Workers    int
	Sampler    string // SamplerSequential or SamplerUniform
}

// Parse decodes and validates a JSON problem document.
func Parse(data []byte) (*Problem, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidDocument)
	}
	doc := gjson.ParseBytes(data)

	p := &Problem{
		Name:    doc.Get("name").String(),
		Trials:  int(doc.Get("trials").Int()),
		Seed:    doc.Get("seed").Int(),
		Workers: int(doc.Get("workers").Int()),
		Sampler: doc.Get("sampler").String(),
	}
	if p.Sampler == "" {
		p.Sampler = SamplerSequential
	}
	if p.Sampler != SamplerSequential && p.Sampler != SamplerUniform {
		return nil, fmt.Errorf("%w: unknown sampler %q", ErrInvalidDocument, p.Sampler)
	}
	if t := doc.Get("trials"); t.Exists() && p.Trials < 1 {
		return nil, fmt.Errorf("%w: trials must be positive, got %d", ErrInvalidDocument, p.Trials)
	}

	var parseErr error
	doc.Get("shares").ForEach(func(_, row gjson.Result) bool {
		if !row.IsArray() {
			parseErr = fmt.Errorf("%w: shares row %d is not an array", ErrInvalidDocument, len(p.Shares))
			return false
		}
		var vals []float64
		row.ForEach(func(_, cell gjson.Result) bool {
			vals = append(vals, cell.Float())
			return true
		})
		p.Shares = append(p.Shares, vals)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(p.Shares) == 0 {
		return nil, fmt.Errorf("%w: missing shares table", ErrInvalidDocument)
	}

	doc.Get("totals").ForEach(func(_, cell gjson.Result) bool {
		p.Totals = append(p.Totals, cell.Float())
		return true
	})
	doc.Get("groups").ForEach(func(_, label gjson.Result) bool {
		p.Groups = append(p.Groups, label.String())
		return true
	})
	doc.Get("categories").ForEach(func(_, label gjson.Result) bool {
		p.Categories = append(p.Categories, label.String())
		return true
	})

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Problem) validate() error {
	m := len(p.Shares)
	k := len(p.Shares[0])
	if k == 0 {
		return fmt.Errorf("%w: shares row 0 is empty", ErrInvalidDocument)
	}
	for i, row := range p.Shares {
		if len(row) != k {
			return fmt.Errorf("%w: shares row %d has %d entries, row 0 has %d", ErrInvalidDocument, i, len(row), k)
		}
		for j, v := range row {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: share [%d][%d] = %g outside [0, 1]", ErrInvalidDocument, i, j, v)
			}
		}
	}
	if len(p.Totals) != m {
		return fmt.Errorf("%w: %d totals for %d share rows", ErrInvalidDocument, len(p.Totals), m)
	}
	for i, v := range p.Totals {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: total [%d] = %g outside [0, 1]", ErrInvalidDocument, i, v)
		}
	}
	if len(p.Groups) > 0 && len(p.Groups) != k {
		return fmt.Errorf("%w: %d group labels for %d columns", ErrInvalidDocument, len(p.Groups), k)
	}
	if len(p.Categories) > 0 && len(p.Categories) != m {
		return fmt.Errorf("%w: %d category labels for %d rows", ErrInvalidDocument, len(p.Categories), m)
	}
	return nil
}

// options translates the document settings into searcher options.
func (p *Problem) options() []simplexsearch.Option {
	var opts []simplexsearch.Option
	if p.Trials > 0 {
		opts = append(opts, simplexsearch.WithTrials(p.Trials))
	}
	if p.Seed != 0 {
		opts = append(opts, simplexsearch.WithRandomSeed(p.Seed))
	}
	if p.Workers > 0 {
		opts = append(opts, simplexsearch.WithWorkers(p.Workers))
	}
	if p.Sampler == SamplerUniform {
		opts = append(opts, simplexsearch.WithSampler(simplexsearch.UniformSampler{}))
	}
	return opts
}

// Searcher builds a configured searcher over the problem's dataset.
func (p *Problem) Searcher(extra ...simplexsearch.Option) (*simplexsearch.Searcher, error) {
	return simplexsearch.NewSearcher(p.Shares, p.Totals, append(p.options(), extra...)...)
}

// Run executes the search with the document's settings.
func (p *Problem) Run(extra ...simplexsearch.Option) (simplexsearch.Result, error) {
	s, err := p.Searcher(extra...)
	if err != nil {
		return simplexsearch.Result{}, err
	}
	return s.Run()
}

// GroupLabel returns the label of column j, falling back to "group j".
func (p *Problem) GroupLabel(j int) string {
	if j < len(p.Groups) {
		return p.Groups[j]
	}
	return fmt.Sprintf("group %d", j)
}

// Render formats a search result for human inspection, one line per group
// weight plus the residual score. Tied winners beyond the first are noted but
// not expanded.
func (p *Problem) Render(res simplexsearch.Result) string {
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "%s\n", p.Name)
	}
	for j, w := range res.Weights() {
		fmt.Fprintf(&b, "  %-16s %.4f\n", p.GroupLabel(j), w)
	}
	fmt.Fprintf(&b, "  residual score   %.6g\n", res.Score)
	if len(res.Best) > 1 {
		fmt.Fprintf(&b, "  (%d trials tied for the minimum)\n", len(res.Best))
	}
	return b.String()
}
