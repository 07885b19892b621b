package audio

import (
	"math"
	"time"
)

// SoundID names one of the built-in alarm sounds.
type SoundID string

const (
	SoundClassic SoundID = "classic"
	SoundChime   SoundID = "chime"
	SoundBirds   SoundID = "birds"

	// DefaultSound is used when a persisted ID is unknown.
	DefaultSound = SoundClassic
)

// Signed 16-bit little-endian mono, matching the player's context options.
const (
	sampleRate   = 44100
	channelCount = 1
)

// Catalog lists the selectable sound IDs in display order.
func Catalog() []SoundID {
	return []SoundID{SoundClassic, SoundChime, SoundBirds}
}

// ValidSound reports whether id names a catalog sound.
func ValidSound(id SoundID) bool {
	for _, s := range Catalog() {
		if s == id {
			return true
		}
	}
	return false
}

// NormalizeSound maps unknown IDs read from the preference store back to the
// default.
func NormalizeSound(id SoundID) SoundID {
	if ValidSound(id) {
		return id
	}
	return DefaultSound
}

// renderSound synthesizes the PCM samples for a catalog sound. Sounds are
// generated rather than shipped as assets, so a load can only fail for an
// unknown ID.
func renderSound(id SoundID) []byte {
	switch id {
	case SoundChime:
		return concat(
			tone(880, 350*time.Millisecond, 0.5, decayEnvelope),
			tone(659.25, 350*time.Millisecond, 0.5, decayEnvelope),
			tone(523.25, 500*time.Millisecond, 0.5, decayEnvelope),
			silence(300*time.Millisecond),
		)
	case SoundBirds:
		return concat(
			chirp(1800, 2600, 120*time.Millisecond, 0.35),
			silence(80*time.Millisecond),
			chirp(2000, 3000, 100*time.Millisecond, 0.35),
			silence(60*time.Millisecond),
			chirp(1700, 2400, 140*time.Millisecond, 0.35),
			silence(400*time.Millisecond),
		)
	default: // SoundClassic
		return concat(
			tone(880, 200*time.Millisecond, 0.6, flatEnvelope),
			silence(100*time.Millisecond),
			tone(880, 200*time.Millisecond, 0.6, flatEnvelope),
			silence(500*time.Millisecond),
		)
	}
}

// fallbackTone is the best-effort alert used when the selected sound cannot
// play: three short beeps with a quick decay, the oscillator-and-gain
// equivalent. Independent of the catalog.
func fallbackTone() []byte {
	beep := tone(660, 180*time.Millisecond, 0.5, decayEnvelope)
	gap := silence(120 * time.Millisecond)
	return concat(beep, gap, beep, gap, beep)
}

type envelope func(progress float64) float64

func flatEnvelope(float64) float64 { return 1 }

// decayEnvelope fades the tone out over its duration, with a short attack
// ramp to avoid clicks.
func decayEnvelope(p float64) float64 {
	attack := 0.02
	if p < attack {
		return p / attack
	}
	return math.Exp(-4 * (p - attack))
}

// tone renders a sine wave at the given frequency.
func tone(freq float64, dur time.Duration, amp float64, env envelope) []byte {
	n := sampleCount(dur)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		p := float64(i) / float64(n)
		v := amp * env(p) * math.Sin(2*math.Pi*freq*t)
		writeSample(out, i, v)
	}
	return out
}

// chirp renders a sine sweep from one frequency to another.
func chirp(fromHz, toHz float64, dur time.Duration, amp float64) []byte {
	n := sampleCount(dur)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		p := float64(i) / float64(n)
		freq := fromHz + (toHz-fromHz)*p
		v := amp * decayEnvelope(p) * math.Sin(2*math.Pi*freq*t)
		writeSample(out, i, v)
	}
	return out
}

func silence(dur time.Duration) []byte {
	return make([]byte, sampleCount(dur)*2)
}

func sampleCount(dur time.Duration) int {
	return int(float64(sampleRate) * dur.Seconds())
}

// writeSample stores a [-1, 1] float as signed 16-bit little-endian.
func writeSample(out []byte, i int, v float64) {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	s := int16(v * math.MaxInt16)
	out[i*2] = byte(s)
	out[i*2+1] = byte(s >> 8)
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
