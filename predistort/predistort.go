// Package predistort implements the DAB modulator's digital
// predistortion (DPD) stage: a memoryless AM/AM + AM/PM polynomial or
// a magnitude-indexed lookup table, parallelised across a worker pool
// and introducing a fixed two-frame pipeline delay.
package predistort

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cwsl/dabmod/sample"
)

// PipelineDelay is the fixed number of frame-times by which the
// Predistorter's output trails its input: Process holds each processed
// frame in a pending queue and emits it PipelineDelay calls later.
const PipelineDelay = 2

type segmentJob struct {
	coeffs      *Coefficients
	stats       *Stats
	src, dst    sample.Buffer
	start, stop int
	wg          *sync.WaitGroup
}

// worker processes segment descriptors posted to its input queue, one
// goroutine per pool slot, each fed from its own buffered channel.
type worker struct {
	jobs chan segmentJob
}

func newWorker() *worker {
	w := &worker{jobs: make(chan segmentJob, 1)}
	go w.run()
	return w
}

func (w *worker) run() {
	for job := range w.jobs {
		processSegment(job.coeffs, job.stats, job.dst[job.start:job.stop], job.src[job.start:job.stop])
		job.wg.Done()
	}
}

// Stats tracks diagnostic counters for the LUT path's bin
// saturation accounting.
type Stats struct {
	// ClampedSamples counts LUT lookups whose scaled magnitude index
	// had to be clamped into [0, NumLUTEntries).
	ClampedSamples atomic.Uint64
}

// Predistorter applies DPD to a stream of frames, one call to Process
// per modulator frame-time. See PipelineDelay for the emitted-frame
// timing contract.
type Predistorter struct {
	workers []*worker
	coeffs  atomic.Pointer[Coefficients]

	mu       sync.Mutex // guards pending and coeffile load ordering
	pending  []sample.Frame
	Stats    Stats
	coeffile string
}

// New builds a Predistorter with the given worker-pool width. A width
// of 0 uses runtime.GOMAXPROCS(0) as the hardware-concurrency
// fallback.
func New(width int) *Predistorter {
	if width <= 0 {
		width = runtime.GOMAXPROCS(0)
	}
	p := &Predistorter{
		workers: make([]*worker, width),
	}
	for i := range p.workers {
		p.workers[i] = newWorker()
	}
	p.coeffs.Store(PassThrough())
	return p
}

// Coefficients returns the currently active coefficient set.
func (p *Predistorter) Coefficients() *Coefficients {
	return p.coeffs.Load()
}

// NumCoefficients reports the size of the active coefficient set, for
// the remote-control "ncoefs" read-only parameter.
func (p *Predistorter) NumCoefficients() int {
	c := p.coeffs.Load()
	switch c.Kind {
	case KindPolynomial:
		return 2 * NumPolyCoeffs
	case KindLUT:
		return NumLUTEntries
	default:
		return 0
	}
}

// LoadCoefficients parses path and, on success, atomically swaps it
// in as the active coefficient set. On failure the previously active
// coefficients are left untouched and the error is returned for the
// remote-control caller to surface as a parameter error.
func (p *Predistorter) LoadCoefficients(path string) error {
	c, err := LoadFile(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.coeffile = path
	p.mu.Unlock()
	p.coeffs.Store(c)
	return nil
}

// Coeffile returns the path most recently loaded, for remote-control
// status reporting.
func (p *Predistorter) Coeffile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coeffile
}

// Process runs DPD on in, using the currently active coefficients,
// parallelised across the worker pool, and returns the frame whose
// output is now ready given the fixed PipelineDelay. The first
// PipelineDelay calls return synthesized all-zero silence frames
// flagged Refresh, as pre-roll while the pipeline fills.
func (p *Predistorter) Process(in sample.Frame) sample.Frame {
	out := sample.Frame{
		Samples: make(sample.Buffer, len(in.Samples)),
		Stamp:   in.Stamp,
		FCT:     in.FCT,
		Refresh: in.Refresh,
	}

	coeffs := p.coeffs.Load()
	p.dispatch(coeffs, out.Samples, in.Samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, out)
	if len(p.pending) <= PipelineDelay {
		return silenceFrame(in)
	}

	emit := p.pending[0]
	p.pending = p.pending[1:]
	return emit
}

func silenceFrame(like sample.Frame) sample.Frame {
	return sample.Frame{
		Samples: make(sample.Buffer, len(like.Samples)),
		Stamp:   like.Stamp,
		FCT:     like.FCT,
		Refresh: true,
	}
}

func (p *Predistorter) dispatch(coeffs *Coefficients, dst, src sample.Buffer) {
	n := len(src)
	if n == 0 {
		return
	}
	w := len(p.workers)
	if w <= 0 {
		w = 1
	}
	segLen := (n + w - 1) / w

	var wg sync.WaitGroup
	start := 0
	lastStart, lastStop := 0, n
	for i := 0; i < w; i++ {
		stop := start + segLen
		if stop > n {
			stop = n
		}
		if start >= stop {
			break
		}
		if i == w-1 || stop == n {
			lastStart, lastStop = start, stop
			start = stop
			break
		}
		wg.Add(1)
		p.workers[i].jobs <- segmentJob{coeffs: coeffs, stats: &p.Stats, src: src, dst: dst, start: start, stop: stop, wg: &wg}
		start = stop
	}

	// The dispatcher processes the final segment itself rather than
	// handing it to a worker, then drains completion tokens from the
	// rest of the pool.
	processSegment(coeffs, &p.Stats, dst[lastStart:lastStop], src[lastStart:lastStop])
	wg.Wait()
}

func processSegment(coeffs *Coefficients, stats *Stats, dst, src sample.Buffer) {
	switch coeffs.Kind {
	case KindLUT:
		applyLUT(dst, src, coeffs, stats)
	case KindPolynomial:
		applyPolynomial(dst, src, coeffs)
	default:
		copy(dst, src)
	}
}

// Close stops the worker pool's goroutines. It must be called exactly
// once, after the last call to Process.
func (p *Predistorter) Close() {
	for _, w := range p.workers {
		close(w.jobs)
	}
}
