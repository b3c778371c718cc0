package templates

import (
	"fmt"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"example.com/circuit/internal/domain"
)

const seedVersion = 1

type seedFile struct {
	Version   int            `toml:"version"`
	Templates []seedTemplate `toml:"template"`
}

type seedTemplate struct {
	ID        string         `toml:"id,omitempty"`
	Name      string         `toml:"name"`
	Rounds    int            `toml:"rounds"`
	Exercises []seedExercise `toml:"exercise"`
}

type seedExercise struct {
	Name        string  `toml:"name"`
	Distance    float64 `toml:"distance,omitempty"`
	Repetitions int     `toml:"repetitions,omitempty"`
	Duration    float64 `toml:"duration,omitempty"`
}

// DecodeSeed parses a TOML template file. Exercise order follows file order and every
// template is validated; IDs are left empty when the file omits them.
func DecodeSeed(data []byte) ([]domain.WorkoutTemplate, error) {
	var file seedFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode template file: %w", err)
	}
	if file.Version != 0 && file.Version != seedVersion {
		return nil, fmt.Errorf("unsupported template file version %d", file.Version)
	}

	out := make([]domain.WorkoutTemplate, 0, len(file.Templates))
	for i, st := range file.Templates {
		t := domain.WorkoutTemplate{ID: st.ID, Name: st.Name, Rounds: st.Rounds}
		for order, ex := range st.Exercises {
			t.Exercises = append(t.Exercises, domain.TemplateExerciseSpec{
				Name:              ex.Name,
				TargetDistance:    ex.Distance,
				TargetRepetitions: ex.Repetitions,
				TargetDuration:    ex.Duration,
				Order:             order,
			})
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %d (%q): %w", i, st.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeSeed renders templates in the format DecodeSeed reads.
func EncodeSeed(ts []domain.WorkoutTemplate) ([]byte, error) {
	file := seedFile{Version: seedVersion}
	for _, t := range ts {
		st := seedTemplate{ID: t.ID, Name: t.Name, Rounds: t.Rounds}
		for _, ex := range t.OrderedExercises() {
			st.Exercises = append(st.Exercises, seedExercise{
				Name:        ex.Name,
				Distance:    ex.TargetDistance,
				Repetitions: ex.TargetRepetitions,
				Duration:    ex.TargetDuration,
			})
		}
		file.Templates = append(file.Templates, st)
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode template file: %w", err)
	}
	return data, nil
}

// Stamp assigns an id to a new template and bumps UpdatedAt.
func Stamp(t domain.WorkoutTemplate, now time.Time, newID func() string) domain.WorkoutTemplate {
	if t.ID == "" {
		t.ID = newID()
	}
	t.UpdatedAt = now.UTC()
	return t
}
