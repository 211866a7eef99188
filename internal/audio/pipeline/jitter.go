package pipeline

import "sync"

// JitterBuffer holds decoded frames until at least min are queued,
// discarding the oldest once max is exceeded.
type JitterBuffer struct {
	mu      sync.Mutex
	frames  [][]int16
	min     int
	max     int
	primed  bool
	dropped int
}

func NewJitterBuffer(minFrames, maxFrames int) *JitterBuffer {
	if maxFrames < minFrames {
		maxFrames = minFrames
	}
	return &JitterBuffer{min: minFrames, max: maxFrames}
}

// Push appends a frame and returns how many old frames were dropped.
func (j *JitterBuffer) Push(frame []int16) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.frames = append(j.frames, frame)
	excess := len(j.frames) - j.max
	if excess <= 0 {
		return 0
	}
	j.frames = j.frames[excess:]
	j.dropped += excess
	return excess
}

// Pop returns the oldest frame once the buffer has filled to min.
// An underrun re-arms the threshold.
func (j *JitterBuffer) Pop() ([]int16, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.primed {
		if len(j.frames) < j.min {
			return nil, false
		}
		j.primed = true
	}
	if len(j.frames) == 0 {
		j.primed = false
		return nil, false
	}
	frame := j.frames[0]
	j.frames = j.frames[1:]
	return frame, true
}

func (j *JitterBuffer) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.frames)
}

func (j *JitterBuffer) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}
