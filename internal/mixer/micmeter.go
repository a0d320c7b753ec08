package mixer

import (
	"math"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/fadewerk/duodeck/internal/audio"
)

const micFFTSize = 2048

// micMeter computes the microphone VU as the average magnitude of the
// forward spectrum, normalized to [0,1]. Peaks on a live mic are spiky;
// averaging over bins reads much steadier than a time-domain peak.
type micMeter struct {
	plan   *algofft.Plan[complex128]
	input  []complex128
	output []complex128
}

func newMicMeter() *micMeter {
	plan, err := algofft.NewPlan64(micFFTSize)
	if err != nil {
		// Power-of-two size; only fails if the library is broken.
		return &micMeter{}
	}
	return &micMeter{
		plan:   plan,
		input:  make([]complex128, micFFTSize),
		output: make([]complex128, micFFTSize),
	}
}

// level computes the reading from one interleaved stereo tap block.
func (mm *micMeter) level(block []float64) float64 {
	if mm.plan == nil || len(block) == 0 {
		return 0
	}

	// Mono mix into the (zero-padded) FFT input.
	frames := len(block) / audio.Channels
	if frames > micFFTSize {
		frames = micFFTSize
	}
	for i := 0; i < frames; i++ {
		mm.input[i] = complex((block[2*i]+block[2*i+1])/2, 0)
	}
	for i := frames; i < micFFTSize; i++ {
		mm.input[i] = 0
	}

	if err := mm.plan.Forward(mm.output, mm.input); err != nil {
		return 0
	}

	// Average per-bin amplitude over the positive-frequency half, scaled so
	// normal speech sits mid-meter.
	half := micFFTSize / 2
	sum := 0.0
	for i := 1; i <= half; i++ {
		sum += cmplx.Abs(mm.output[i]) * 2 / micFFTSize
	}
	avg := sum / float64(half)
	return math.Min(1, avg*micMeterGain)
}

// micMeterGain lifts the tiny broadband per-bin average into a usable
// 0..1 display range.
const micMeterGain = 40
