package microphone

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoGuard mutes the portion of a captured chunk that correlates highly
// with recently-played speaker audio, so freshly-played TTS is not
// re-captured and re-sent up the microphone topic. Grounded on the
// orchestrator's echo suppressor: energy-normalized cross-correlation of
// 16-bit PCM samples against a rolling buffer of played audio.
type EchoGuard struct {
	mu sync.Mutex

	played      *bytes.Buffer
	maxBufBytes int
	threshold   float64
	silence     time.Duration
	lastPlayed  time.Time
}

// NewEchoGuard builds a guard that considers captured audio possibly-echo
// for silence after the last played frame, muting segments whose
// normalized correlation against the played-audio buffer exceeds
// threshold.
func NewEchoGuard(maxBufBytes int, threshold float64, silence time.Duration) *EchoGuard {
	return &EchoGuard{
		played:      new(bytes.Buffer),
		maxBufBytes: maxBufBytes,
		threshold:   threshold,
		silence:     silence,
	}
}

// RecordPlayedAudio appends a frame the speaker manager just pushed to the
// platform, trimming the rolling buffer to maxBufBytes.
func (g *EchoGuard) RecordPlayedAudio(frame []byte) {
	if len(frame) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.played.Write(frame)
	g.lastPlayed = time.Now()

	if g.played.Len() > g.maxBufBytes {
		data := g.played.Bytes()
		trimmed := data[len(data)-g.maxBufBytes:]
		g.played.Reset()
		g.played.Write(trimmed)
	}
}

// Process returns a copy of input with any leading echo-correlated
// segment zeroed. Audio older than the silence window, or with no
// correlation above threshold, passes through unchanged.
func (g *EchoGuard) Process(input []byte) []byte {
	out := append([]byte(nil), input...)
	if len(input) == 0 {
		return out
	}

	g.mu.Lock()
	if time.Since(g.lastPlayed) > g.silence {
		g.mu.Unlock()
		return out
	}
	ref := append([]byte(nil), g.played.Bytes()...)
	threshold := g.threshold
	g.mu.Unlock()

	if len(ref) == 0 {
		return out
	}

	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(ref)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return out
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	inSeg := inSamples[:compareLen]
	inEnergy := calculateEnergy(inSeg)
	if inEnergy == 0 {
		return out
	}

	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}

	maxCorr := 0.0
	searchRange := len(refSamples) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		seg := refSamples[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += inSeg[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				break
			}
		}
	}

	if maxCorr < threshold {
		return out
	}

	muteBytes := compareLen * 2
	if muteBytes > len(out) {
		muteBytes = len(out)
	}
	for i := 0; i < muteBytes; i++ {
		out[i] = 0
	}
	return out
}

// bytesToSamples converts 16-bit little-endian PCM bytes to [-1, 1] floats.
func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}
