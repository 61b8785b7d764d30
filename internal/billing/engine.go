package billing

import "time"

// Settings tunes the catch-up runner.
type Settings struct {
	// MaxPeriods caps the periods processed per subscription per run.
	MaxPeriods int
	// Workers bounds how many subscriptions are processed at once.
	Workers int
	// UnitTimeout bounds each materialize-or-advance unit. Zero means the
	// default; a negative value disables the deadline.
	UnitTimeout time.Duration
	// Location is the calendar the run's as-of instant is read in.
	Location *time.Location
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MaxPeriods:  36,
		Workers:     4,
		UnitTimeout: 10 * time.Second,
		Location:    time.UTC,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxPeriods <= 0 {
		s.MaxPeriods = def.MaxPeriods
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	switch {
	case s.UnitTimeout == 0:
		s.UnitTimeout = def.UnitTimeout
	case s.UnitTimeout < 0:
		s.UnitTimeout = 0
	}
	if s.Location == nil {
		s.Location = def.Location
	}
	return s
}

// Engine wires the billing components over one store.
type Engine struct {
	Materializer *Materializer
	Runner       *Runner
	Creator      *Creator
}

// New builds an Engine. categories is usually the same value as store.
func New(store Store, categories CategoryStore, settings Settings) *Engine {
	settings = settings.withDefaults()
	m := NewMaterializer(store, NewCategoryResolver(categories), settings.UnitTimeout)
	return &Engine{
		Materializer: m,
		Runner:       NewRunner(store, m, settings),
		Creator:      NewCreator(store, m, settings.Location),
	}
}
