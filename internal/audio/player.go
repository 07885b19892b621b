// Package audio plays the alarm sound through the system output device,
// with a synthesized fallback tone when the selected sound cannot start and
// hard ceilings that keep a reminder from looping forever.
package audio

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/marcus/napwatch/internal/logging"
)

const (
	// PlayCeiling auto-stops looped alarm playback.
	PlayCeiling = 10 * time.Second
	// PreviewCeiling caps a one-shot audition.
	PreviewCeiling = 5 * time.Second
)

// ErrNoAudio means the output device could not be opened at all; callers
// should treat playback as a silent no-op.
var ErrNoAudio = errors.New("audio: no output device")

// output abstracts the oto context so playback logic is testable without a
// sound card.
type output interface {
	open() error
	start(samples []byte, loop bool, ceiling time.Duration, stop <-chan struct{}) error
}

// Player owns the single audio playback resource. All mutation of playback
// state goes through its methods.
type Player struct {
	mu sync.Mutex

	muted    bool
	soundID  SoundID
	loadedID SoundID
	samples  []byte

	unlocked  bool
	unlockErr error
	inflight  chan struct{}

	active *playback
	out    output
	log    *logging.Logger
}

// playback tracks one running play/preview so Stop can end it.
type playback struct {
	stopCh chan struct{}
	once   sync.Once
}

func (p *playback) stop() {
	p.once.Do(func() { close(p.stopCh) })
}

// New creates a Player with the given initial preferences.
func New(soundID SoundID, muted bool) *Player {
	return &Player{
		muted:   muted,
		soundID: NormalizeSound(soundID),
		out:     &otoOutput{},
		log:     logging.Component("audio"),
	}
}

// SetMuted updates the mute preference. Muting while a sound is active stops
// it immediately.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	active := p.active
	p.mu.Unlock()

	if muted && active != nil {
		active.stop()
	}
}

// Muted reports the current mute preference.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// SetSound selects a catalog sound. The samples are re-rendered lazily, only
// when the ID actually changes.
func (p *Player) SetSound(id SoundID) {
	p.mu.Lock()
	p.soundID = NormalizeSound(id)
	p.mu.Unlock()
}

// Sound returns the selected sound ID.
func (p *Player) Sound() SoundID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.soundID
}

// Play starts the selected sound looped, auto-stopping after PlayCeiling.
// If the primary sound cannot start, the synthesized fallback tone plays
// instead; only a fully unavailable audio device returns ErrNoAudio.
func (p *Player) Play() error {
	return p.start(true, PlayCeiling, false)
}

// Preview plays the given sound once, non-looped, for auditioning.
func (p *Player) Preview(id SoundID) error {
	p.SetSound(id)
	return p.start(false, PreviewCeiling, false)
}

// Stop halts any active playback and resets position.
func (p *Player) Stop() {
	p.mu.Lock()
	active := p.active
	p.active = nil
	p.mu.Unlock()

	if active != nil {
		active.stop()
	}
}

// start is the shared playback path for Play and Preview. fallback marks a
// recursive fallback attempt so it cannot loop.
func (p *Player) start(loop bool, ceiling time.Duration, fallback bool) error {
	p.mu.Lock()
	if p.muted {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.unlock(); err != nil {
		// No output device at all: notification still fires, audio
		// silently no-ops.
		p.log.Warnf("audio unavailable: %v", err)
		return ErrNoAudio
	}

	samples, err := p.load(fallback)
	if err == nil {
		p.mu.Lock()
		if p.active != nil {
			p.active.stop()
		}
		pb := &playback{stopCh: make(chan struct{})}
		p.active = pb
		out := p.out
		p.mu.Unlock()

		err = out.start(samples, loop, ceiling, pb.stopCh)
		if err == nil {
			return nil
		}
	}

	if fallback {
		return err
	}
	p.log.Warnf("primary sound blocked, using fallback tone: %v", err)
	return p.start(loop, ceiling, true)
}

// load returns the samples to play, re-rendering the cached catalog sound
// only when the selection changed.
func (p *Player) load(fallback bool) ([]byte, error) {
	if fallback {
		return fallbackTone(), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !ValidSound(p.soundID) {
		return nil, errors.New("audio: unknown sound id")
	}
	if p.loadedID != p.soundID || p.samples == nil {
		p.samples = renderSound(p.soundID)
		p.loadedID = p.soundID
	}
	return p.samples, nil
}

// unlock opens the output device once and caches the result. Concurrent
// callers during a pending attempt wait for that same attempt instead of
// opening the device twice.
func (p *Player) unlock() error {
	p.mu.Lock()
	if p.unlocked {
		p.mu.Unlock()
		return nil
	}
	if p.inflight != nil {
		ch := p.inflight
		p.mu.Unlock()
		<-ch
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.unlockErr
	}
	ch := make(chan struct{})
	p.inflight = ch
	out := p.out
	p.mu.Unlock()

	err := out.open()

	p.mu.Lock()
	p.unlockErr = err
	p.unlocked = err == nil
	p.inflight = nil
	p.mu.Unlock()
	close(ch)
	return err
}

// otoOutput drives the real sound device through a process-wide oto context.
type otoOutput struct{}

var (
	otoCtx     *oto.Context
	otoCtxOnce sync.Once
	otoCtxErr  error
)

func (o *otoOutput) open() error {
	otoCtxOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoCtxErr = err
			return
		}
		// Wait for the hardware device to be ready.
		<-ready
		otoCtx = ctx
	})
	return otoCtxErr
}

// start runs the playback loop in a goroutine: a fresh oto player per pass,
// ended by the stop channel or the ceiling, whichever comes first.
func (o *otoOutput) start(samples []byte, loop bool, ceiling time.Duration, stop <-chan struct{}) error {
	go func() {
		deadline := time.After(ceiling)
		for {
			player := otoCtx.NewPlayer(bytes.NewReader(samples))
			player.Play()

			for player.IsPlaying() {
				select {
				case <-stop:
					player.Pause()
					_ = player.Close()
					return
				case <-deadline:
					player.Pause()
					_ = player.Close()
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
			_ = player.Close()

			if !loop {
				return
			}
			select {
			case <-stop:
				return
			case <-deadline:
				return
			default:
			}
		}
	}()
	return nil
}
