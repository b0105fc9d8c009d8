package input

import "time"

// Sequences are the named button sequences the sync loop is built from.
type Sequences struct {
	// Reset leaves the game for the HOME menu and closes it.
	Reset Sequence `yaml:"reset"`
	// SkipOpening1 launches the game and skips to the gender prompt. The
	// counter is latched the moment this starts.
	SkipOpening1 Sequence `yaml:"skip_opening_1"`
	SelectMale   Sequence `yaml:"select_male"`
	// DecideNameA enters a one letter placeholder name.
	DecideNameA Sequence `yaml:"decide_name_a"`
	// DiscardName declines the name, which costs one advance and returns to
	// the gender prompt.
	DiscardName     Sequence `yaml:"discard_name"`
	DecideNameFinal Sequence `yaml:"decide_name_final"`
	ConfirmName     Sequence `yaml:"confirm_name"`
	SkipOpening2    Sequence `yaml:"skip_opening_2"`
	ShowTrainerCard Sequence `yaml:"show_trainer_card"`
	// Settle is pressed once discovery sampling has finished.
	Settle Sequence `yaml:"settle"`
}

func press(k Key, hold, gap time.Duration) Operation {
	return Operation{Keys: []Key{k}, Hold: hold, Gap: gap}
}

const (
	tap   = 100 * time.Millisecond
	short = 500 * time.Millisecond
)

// DefaultSequences are tuned for a retail console behind a capture card.
func DefaultSequences() Sequences {
	return Sequences{
		Reset: Sequence{
			press(Home, tap, 2500*time.Millisecond),
			press(X, tap, time.Second),
			press(A, tap, 4*time.Second),
		},
		SkipOpening1: Sequence{
			press(A, tap, 9*time.Second),
			press(A, tap, 3*time.Second),
			press(A, tap, 2*time.Second),
			press(B, tap, 3*time.Second),
			press(B, tap, 3*time.Second),
		},
		SelectMale: Sequence{
			press(A, tap, 1500*time.Millisecond),
			press(A, tap, 1500*time.Millisecond),
		},
		DecideNameA: Sequence{
			press(A, tap, short),
			press(Start, tap, short),
			press(A, tap, 1500*time.Millisecond),
		},
		DiscardName: Sequence{
			press(B, tap, short),
			press(B, tap, 2*time.Second),
		},
		DecideNameFinal: Sequence{
			press(Right, tap, 200*time.Millisecond),
			press(A, tap, short),
			press(Down, tap, 200*time.Millisecond),
			press(A, tap, short),
			press(Start, tap, short),
			press(A, tap, 1500*time.Millisecond),
		},
		ConfirmName: Sequence{
			press(A, tap, 1500*time.Millisecond),
			press(A, tap, 3*time.Second),
		},
		SkipOpening2: Sequence{
			press(B, tap, 2*time.Second),
			press(B, tap, 2*time.Second),
			press(B, tap, 2*time.Second),
			press(B, tap, 8*time.Second),
		},
		ShowTrainerCard: Sequence{
			press(X, tap, 1500*time.Millisecond),
			press(A, tap, 3*time.Second),
		},
		Settle: Sequence{
			press(A, 200*time.Millisecond, 9*time.Second),
		},
	}
}

// GetID starts a throw away game and shows its trainer card.
func (s Sequences) GetID() Sequence {
	return Concat(s.SkipOpening1, s.SelectMale, s.DecideNameA, s.ConfirmName, s.SkipOpening2, s.ShowTrainerCard)
}

// Discard consumes exactly one advance.
func (s Sequences) Discard() Sequence {
	return Concat(s.SelectMale, s.DecideNameA, s.DiscardName)
}

// Create commits the save and shows the resulting trainer card.
func (s Sequences) Create() Sequence {
	return Concat(s.SelectMale, s.DecideNameFinal, s.ConfirmName, s.SkipOpening2, s.ShowTrainerCard)
}

// Merge replaces every sequence that is set in o.
func (s Sequences) Merge(o Sequences) Sequences {
	pick := func(dst *Sequence, src Sequence) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&s.Reset, o.Reset)
	pick(&s.SkipOpening1, o.SkipOpening1)
	pick(&s.SelectMale, o.SelectMale)
	pick(&s.DecideNameA, o.DecideNameA)
	pick(&s.DiscardName, o.DiscardName)
	pick(&s.DecideNameFinal, o.DecideNameFinal)
	pick(&s.ConfirmName, o.ConfirmName)
	pick(&s.SkipOpening2, o.SkipOpening2)
	pick(&s.ShowTrainerCard, o.ShowTrainerCard)
	pick(&s.Settle, o.Settle)
	return s
}
