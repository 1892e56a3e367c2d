package ambient

import (
	"math"
	"sync"
)

const (
	noiseWindow = 50
	// RMS over int16 samples above which the room counts as noisy.
	noisyThreshold = 2200.0

	minWordsQuiet = 3
	minWordsNoisy = 4
)

// noiseTracker keeps a rolling RMS average over the last segments and turns
// it into a binary noisy-environment signal. Noisy rooms demand longer
// transcripts before a segment is accepted.
type noiseTracker struct {
	mu     sync.Mutex
	window []float64
}

func (n *noiseTracker) observe(pcm []byte) {
	rms := segmentRMS(pcm)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.window = append(n.window, rms)
	if len(n.window) > noiseWindow {
		n.window = n.window[len(n.window)-noiseWindow:]
	}
}

func (n *noiseTracker) noisy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.window) == 0 {
		return false
	}
	var sum float64
	for _, v := range n.window {
		sum += v
	}
	return sum/float64(len(n.window)) > noisyThreshold
}

func (n *noiseTracker) minWords() int {
	if n.noisy() {
		return minWordsNoisy
	}
	return minWordsQuiet
}

// segmentRMS treats the payload as 16-bit little-endian linear PCM.
func segmentRMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}
