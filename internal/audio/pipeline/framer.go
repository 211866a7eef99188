package pipeline

// Framer regroups arbitrarily sized sample blocks into fixed size frames.
type Framer struct {
	size    int
	pending []int16
}

func NewFramer(size int) *Framer {
	return &Framer{size: size}
}

// Push appends samples and returns every complete frame. The remainder is kept.
func (f *Framer) Push(samples []int16) [][]int16 {
	f.pending = append(f.pending, samples...)
	var frames [][]int16
	for len(f.pending) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

func (f *Framer) Pending() int { return len(f.pending) }
