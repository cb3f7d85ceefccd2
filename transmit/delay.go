package transmit

import "github.com/cwsl/dabmod/sample"

// delayRing implements the static-delay ring buffer: each emitted
// frame is prefixed
// with the last D samples of the previous frame, and its own trailing
// D samples are held back for the next call. D is not limited to one
// frame: with D at or above the frame length, each call's output comes
// entirely from samples held back by earlier calls.
type delayRing struct {
	depth int
	tail  sample.Buffer
}

func (d *delayRing) resize(depth int) {
	if depth < 0 {
		depth = 0
	}
	d.depth = depth
	d.tail = make(sample.Buffer, depth)
}

// apply returns a newly-delayed buffer: the previous call's held-back
// tail followed by in's samples minus its own trailing depth samples,
// which become the new tail. When depth is 0, in is passed through
// unchanged. When depth is at least len(in), the output is drawn
// entirely from the held-back samples and the whole of in is held
// back.
func (d *delayRing) apply(in sample.Buffer) sample.Buffer {
	if d.depth == 0 {
		return in
	}
	if d.depth >= len(in) {
		out := make(sample.Buffer, len(in))
		copy(out, d.tail[:len(in)])
		newTail := make(sample.Buffer, d.depth)
		copy(newTail, d.tail[len(in):])
		copy(newTail[d.depth-len(in):], in)
		d.tail = newTail
		return out
	}

	out := make(sample.Buffer, len(in))
	copy(out, d.tail)
	copy(out[d.depth:], in[:len(in)-d.depth])

	newTail := make(sample.Buffer, d.depth)
	copy(newTail, in[len(in)-d.depth:])
	d.tail = newTail
	return out
}
