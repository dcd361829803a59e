package simplexsearch

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors returned by NewSearcher, Run and Score.
var (
	// ErrInvalidDimension reports a non-positive matrix dimension or trial count.
	ErrInvalidDimension = errors.New("simplexsearch: dimension must be positive")
	// ErrDimensionMismatch reports disagreeing shapes between the share
	// matrix, the totals vector and a candidate weight vector.
	ErrDimensionMismatch = errors.New("simplexsearch: dimension mismatch")
)

// Sampler draws one candidate weight vector on the probability simplex.
type Sampler interface {
	// Sample fills dst with nonnegative entries summing to 1, consuming
	// draws from rng. len(dst) >= 1 is the caller's responsibility.
	Sample(rng *rand.Rand, dst []float64)
}

// SequentialSampler is the default sampling strategy: each slot except the
// last draws uniformly from the budget left over by the slots before it, and
// the last slot absorbs the remainder.
//
// The distribution is NOT uniform over the simplex: slot j has expected value
// 0.5^(j+1), so later slots are systematically smaller. The bias is
// deliberate and results quoted for this method depend on it. Use
// UniformSampler when an unbiased draw matters more than matching those
// results.
type SequentialSampler struct{}

// Sample implements Sampler.
func (SequentialSampler) Sample(rng *rand.Rand, dst []float64) {
	for j := range dst {
		dst[j] = 0
	}
	remaining := 1.0
	for j := 0; j < len(dst)-1; j++ {
		u := rng.Float64() * remaining
		dst[j] = u
		remaining -= u
	}
	dst[len(dst)-1] = remaining
}

// UniformSampler draws uniformly over the probability simplex using
// exponential spacings: k independent Exp(1) draws normalized by their sum,
// equivalent to Dirichlet(1,...,1).
type UniformSampler struct{}

// Sample implements Sampler.
func (UniformSampler) Sample(rng *rand.Rand, dst []float64) {
	sum := 0.0
	for j := range dst {
		e := rng.ExpFloat64()
		dst[j] = e
		sum += e
	}
	for j := range dst {
		dst[j] /= sum
	}
}

// Score returns the sum of squared residuals between shares·weights and
// totals. shares is a categories-by-groups matrix of proportions, totals the
// observed aggregate proportion per category, weights a candidate group
// weighting. The score is an unnormalized sum, zero exactly when the
// candidate reproduces every total.
func Score(shares [][]float64, totals, weights []float64) (float64, error) {
	x, m, k, err := denseFromRows(shares)
	if err != nil {
		return 0, err
	}
	if len(weights) != k {
		return 0, fmt.Errorf("%w: candidate length %d != share matrix columns %d", ErrDimensionMismatch, len(weights), k)
	}
	if len(totals) != m {
		return 0, fmt.Errorf("%w: totals length %d != share matrix rows %d", ErrDimensionMismatch, len(totals), m)
	}

	resid := mat.NewVecDense(m, nil)
	resid.MulVec(x, mat.NewVecDense(k, weights))
	resid.SubVec(mat.NewVecDense(m, totals), resid)
	return mat.Dot(resid, resid), nil
}

// denseFromRows flattens a rectangular row-major table into a gonum matrix.
func denseFromRows(rows [][]float64) (x *mat.Dense, m, k int, err error) {
	m = len(rows)
	if m < 1 {
		return nil, 0, 0, fmt.Errorf("%w: share matrix has no rows", ErrInvalidDimension)
	}
	k = len(rows[0])
	if k < 1 {
		return nil, 0, 0, fmt.Errorf("%w: share matrix has no columns", ErrInvalidDimension)
	}
	data := make([]float64, 0, m*k)
	for i, row := range rows {
		if len(row) != k {
			return nil, 0, 0, fmt.Errorf("%w: row %d has %d entries, row 0 has %d", ErrDimensionMismatch, i, len(row), k)
		}
		data = append(data, row...)
	}
	return mat.NewDense(m, k, data), m, k, nil
}

// Trial pairs one sampled candidate with its score.
type Trial struct {
	Index   int       // 0-based position within the run's trial sequence
	Weights []float64 // candidate group weights, on the simplex
	Score   float64   // sum of squared residuals
}

// Result is the outcome of one search run: the minimal score observed and
// every trial that attained it, in trial order. Ties are compared by exact
// float equality, so Best almost always holds a single trial; degenerate
// inputs (for example a single group) can produce genuine ties.
type Result struct {
	Score float64
	Best  []Trial
}

// Weights returns the winning weight vector, the earliest-sampled one when
// several trials tie.
func (r Result) Weights() []float64 {
	if len(r.Best) == 0 {
		return nil
	}
	return r.Best[0].Weights
}

// Searcher approximates the group weighting that best reproduces observed
// aggregate totals, by scoring randomly sampled simplex candidates against a
// fixed share matrix and keeping the best.
type Searcher struct {
	x *mat.Dense    // m x k share matrix
	y *mat.VecDense // length-m totals
	m int           // categories
	k int           // groups

	trials  int
	workers int
	seed    int64
	sampler Sampler
	single  bool
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithTrials sets the number of candidates sampled per run. Default 1000.
func WithTrials(n int) Option {
	return func(s *Searcher) {
		s.trials = n
	}
}

// WithRandomSeed sets the random seed for reproducible runs. A zero seed
// selects a time-based seed.
func WithRandomSeed(seed int64) Option {
	return func(s *Searcher) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		s.seed = seed
	}
}

// WithSampler selects the candidate sampling strategy.
// Default SequentialSampler.
func WithSampler(sampler Sampler) Option {
	return func(s *Searcher) {
		s.sampler = sampler
	}
}

// WithWorkers splits the trial budget across w goroutines. Each worker draws
// from its own sub-stream derived from the run seed, so results are
// reproducible for a fixed seed and worker count, but changing the worker
// count changes which candidates get sampled. Default 1 (fully sequential).
func WithWorkers(w int) Option {
	return func(s *Searcher) {
		s.workers = w
	}
}

// WithSingleResult makes Run keep only the earliest-sampled trial when
// several tie for the minimal score.
func WithSingleResult(single bool) Option {
	return func(s *Searcher) {
		s.single = single
	}
}

// NewSearcher validates the problem shapes and returns a ready-to-run
// Searcher. shares is the categories-by-groups proportion matrix, totals the
// per-category aggregate proportions. All shape errors are reported here,
// before any sampling happens.
func NewSearcher(shares [][]float64, totals []float64, options ...Option) (*Searcher, error) {
	x, m, k, err := denseFromRows(shares)
	if err != nil {
		return nil, err
	}
	if len(totals) != m {
		return nil, fmt.Errorf("%w: totals length %d != share matrix rows %d", ErrDimensionMismatch, len(totals), m)
	}

	s := &Searcher{
		x:       x,
		y:       mat.NewVecDense(m, append([]float64(nil), totals...)),
		m:       m,
		k:       k,
		trials:  1000,
		workers: 1,
		seed:    time.Now().UnixNano(),
		sampler: SequentialSampler{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Groups returns the number of groups (candidate dimension).
func (s *Searcher) Groups() int { return s.k }

// Categories returns the number of categories (residual dimension).
func (s *Searcher) Categories() int { return s.m }

// Run executes the full trial budget and returns the best-scoring candidates.
// The run either completes every trial or fails before sampling anything.
func (s *Searcher) Run() (Result, error) {
	if s.trials < 1 {
		return Result{}, fmt.Errorf("%w: trial count %d < 1", ErrInvalidDimension, s.trials)
	}
	workers := s.workers
	if workers < 1 {
		workers = 1
	}
	if workers > s.trials {
		workers = s.trials
	}

	var best partial
	if workers == 1 {
		best = s.runPartition(rand.New(rand.NewSource(s.seed)), 0, s.trials)
	} else {
		best = s.runParallel(workers)
	}

	if s.single && len(best.ties) > 1 {
		best.ties = best.ties[:1]
	}
	return Result{Score: best.score, Best: best.ties}, nil
}

// partial is the best-so-far accumulator for one worker's slice of trials.
type partial struct {
	score float64
	ties  []Trial
}

// runPartition evaluates count trials numbered first..first+count-1 against
// a single random stream and keeps the minimal-score trials.
func (s *Searcher) runPartition(rng *rand.Rand, first, count int) partial {
	weights := make([]float64, s.k)
	wVec := mat.NewVecDense(s.k, weights)
	resid := mat.NewVecDense(s.m, nil)

	best := partial{score: math.Inf(1)}
	for t := 0; t < count; t++ {
		s.sampler.Sample(rng, weights)
		resid.MulVec(s.x, wVec)
		resid.SubVec(s.y, resid)
		score := mat.Dot(resid, resid)

		if score < best.score {
			best.score = score
			best.ties = best.ties[:0]
		} else if score > best.score {
			continue
		}
		best.ties = append(best.ties, Trial{
			Index:   first + t,
			Weights: append([]float64(nil), weights...),
			Score:   score,
		})
	}
	return best
}

// subStreamStride spreads derived worker seeds apart so adjacent workers do
// not share stream prefixes.
const subStreamStride int64 = 0x9E3779B9

// runParallel partitions the trial budget across workers and reduces their
// partial results in partition order, which is also trial order.
func (s *Searcher) runParallel(workers int) partial {
	per := s.trials / workers
	rem := s.trials % workers

	parts := make([]partial, workers)
	var wg sync.WaitGroup
	first := 0
	for w := 0; w < workers; w++ {
		count := per
		if w < rem {
			count++
		}
		seed := s.seed + int64(w)*subStreamStride
		wg.Add(1)
		go func(w, first, count int, seed int64) {
			defer wg.Done()
			parts[w] = s.runPartition(rand.New(rand.NewSource(seed)), first, count)
		}(w, first, count, seed)
		first += count
	}
	wg.Wait()

	best := partial{score: math.Inf(1)}
	for _, p := range parts {
		if p.score < best.score {
			best.score = p.score
			best.ties = append([]Trial(nil), p.ties...)
		} else if p.score == best.score {
			best.ties = append(best.ties, p.ties...)
		}
	}
	return best
}

// Approximate is the one-call form of the search: it builds a Searcher over
// shares and totals, applies the options, and runs it.
func Approximate(shares [][]float64, totals []float64, options ...Option) (Result, error) {
	s, err := NewSearcher(shares, totals, options...)
	if err != nil {
		return Result{}, err
	}
	return s.Run()
}
