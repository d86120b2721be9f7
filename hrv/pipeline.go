package hrv

import (
	"time"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// Config configures a Pipeline.
type Config struct {
	// Alpha is the EWMA smoothing weight in (0, 1].
	Alpha float64
	// Target is the HRV target the biofeedback score is relative to.
	Target float64
	// BreathingRate is the initial pacer rate in breaths per minute.
	BreathingRate float64

	// Logger receives correction and clamp events. Defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// Now returns the event timestamp. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the startup configuration.
func DefaultConfig() Config {
	return Config{
		Alpha:         types.DefaultEWMAAlpha,
		Target:        types.DefaultHRVTarget,
		BreathingRate: types.MaxBreathingRate,
	}
}

// Snapshot is a point-in-time view of the pipeline's scalars.
type Snapshot struct {
	LastIBI       int
	SmoothedHRV   float64
	Score         float64
	Target        float64
	Alpha         float64
	BreathingRate float64
	LocalHRV      []float64
}

// Pipeline owns every buffer and scalar of the signal path. Each call to
// Process runs validate, extract, smooth and score to completion and
// returns the events produced, in order.
type Pipeline struct {
	validator *Validator
	extractor *Extractor
	smoother  *Smoother

	ibis     *TimeSeries
	localHRV *Ring
	meanHRV  *TimeSeries

	target        float64
	breathingRate float64
	score         float64

	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewPipeline creates a pipeline in its startup state.
func NewPipeline(cfg Config) (*Pipeline, error) {
	smoother, err := NewSmoother(cfg.Alpha)
	if err != nil {
		return nil, err
	}
	if err := ValidateTarget(cfg.Target); err != nil {
		return nil, err
	}
	if err := ValidateBreathingRate(cfg.BreathingRate); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pipeline{
		validator:     NewValidator(),
		extractor:     NewExtractor(),
		smoother:      smoother,
		ibis:          NewTimeSeries(types.IBIBufferSize, types.RestingIBI),
		localHRV:      NewRing(types.HRVBufferSize),
		meanHRV:       NewTimeSeries(types.MeanHRVBufferSize, types.HRVSeed),
		target:        cfg.Target,
		breathingRate: cfg.BreathingRate,
		score:         Score(types.HRVSeed, cfg.Target),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}, nil
}

// Process consumes one raw IBI in milliseconds.
//
// It always returns an InterBeatInterval event. On a phase reversal it
// additionally returns a HeartRateVariability and a Biofeedback event.
func (p *Pipeline) Process(raw int) []*types.Event {
	ts := p.now()

	accepted, corrected := p.validator.Validate(raw)
	if corrected {
		p.metrics.IncIBIsCorrected()
		p.logger.Warn("correcting invalid IBI", map[string]any{
			"raw":         raw,
			"replacement": accepted,
		})
	} else {
		p.metrics.IncIBIsAccepted()
	}

	prev, _ := p.ibis.Last()
	p.ibis.Append(float64(accepted), float64(accepted)/1000)

	events := []*types.Event{
		types.NewIBIUpdate(ts, p.ibis.Seconds(), p.ibis.Values()),
	}

	rev, ok := p.extractor.Observe(int(prev), accepted)
	if !ok {
		return events
	}
	p.metrics.IncReversals()

	smoothed, clamped := p.smoother.Update(float64(rev.HRV))
	if clamped {
		p.metrics.IncHRVClamped()
		p.logger.Debug("clamping local HRV", map[string]any{
			"raw":      rev.HRV,
			"smoothed": smoothed,
		})
	}
	p.localHRV.Push(float64(rev.HRV))
	p.meanHRV.Append(smoothed, rev.Seconds)
	p.score = Score(smoothed, p.target)

	return append(events,
		types.NewHRVUpdate(ts, p.meanHRV.Seconds(), p.meanHRV.Values()),
		types.NewBiofeedback(ts, p.score),
	)
}

// SetTarget changes the HRV target and returns a HrvTarget event.
func (p *Pipeline) SetTarget(target float64) (*types.Event, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	p.target = target
	p.score = Score(p.smoother.Value(), target)
	return types.NewTargetUpdate(p.now(), target), nil
}

// SetSmoothingParam changes the EWMA weight.
func (p *Pipeline) SetSmoothingParam(alpha float64) error {
	return p.smoother.SetAlpha(alpha)
}

// SetBreathingRate changes the pacer rate and returns a PacerRate event.
func (p *Pipeline) SetBreathingRate(rate float64) (*types.Event, error) {
	if err := ValidateBreathingRate(rate); err != nil {
		return nil, err
	}
	p.breathingRate = rate
	return types.NewPacerUpdate(p.now(), rate), nil
}

// Snapshot returns the current scalars.
func (p *Pipeline) Snapshot() Snapshot {
	last, _ := p.ibis.Last()
	return Snapshot{
		LastIBI:       int(last),
		SmoothedHRV:   p.smoother.Value(),
		Score:         p.score,
		Target:        p.target,
		Alpha:         p.smoother.Alpha(),
		BreathingRate: p.breathingRate,
		LocalHRV:      p.localHRV.Values(),
	}
}
