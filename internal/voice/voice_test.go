package voice

import (
	"errors"
	"slices"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestDefault_Builtins(t *testing.T) {
	t.Parallel()

	c := Default()
	want := []string{"oracle", "kira", "mika", "byte", "quip"}
	if got := c.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	p, err := c.Lookup("Oracle")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.SpeakerID != "male_2" || p.Speed != 0.75 || p.PitchShift != -4 {
		t.Errorf("oracle = %+v", p)
	}
	for _, b := range Builtin() {
		if err := validate(b); err != nil {
			t.Errorf("builtin %s invalid: %v", b.Name(), err)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()

	_, err := Default().Lookup("narrator")
	if !errors.Is(err, ErrUnknownPersonality) {
		t.Errorf("err = %v, want ErrUnknownPersonality", err)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  string
		o       Override
		wantErr bool
		check   func(t *testing.T, c *Catalogue)
	}{
		{
			name:   "override keeps other fields",
			target: "KIRA",
			o:      Override{Speed: ptr(1.2)},
			check: func(t *testing.T, c *Catalogue) {
				p, _ := c.Lookup("kira")
				if p.Speed != 1.2 || p.SpeakerID != "male_1" || p.PitchShift != -2 {
					t.Errorf("kira = %+v", p)
				}
			},
		},
		{
			name:   "zero pitch is an explicit value",
			target: "mika",
			o:      Override{PitchShift: ptr(0.0)},
			check: func(t *testing.T, c *Catalogue) {
				if p, _ := c.Lookup("mika"); p.PitchShift != 0 {
					t.Errorf("pitch = %v, want 0", p.PitchShift)
				}
			},
		},
		{
			name:   "new personality appended",
			target: "Narrator",
			o:      Override{SpeakerID: ptr("p225"), Introduction: ptr("Once upon a time.")},
			check: func(t *testing.T, c *Catalogue) {
				names := c.Names()
				if names[len(names)-1] != "narrator" {
					t.Errorf("Names() = %v", names)
				}
				p, err := c.Personality("narrator")
				if err != nil || p.Profile.Speed != 1 || p.Introduction != "Once upon a time." {
					t.Errorf("narrator = %+v, %v", p, err)
				}
			},
		},
		{name: "new personality needs speaker", target: "ghost", o: Override{}, wantErr: true},
		{name: "speed out of range", target: "byte", o: Override{Speed: ptr(0.0)}, wantErr: true},
		{name: "pitch out of range", target: "quip", o: Override{PitchShift: ptr(20.0)}, wantErr: true},
		{name: "empty name", target: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := Default()
			err := c.Apply(tt.target, tt.o)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
			if tt.wantErr && len(c.Names()) != 5 {
				t.Error("failed Apply changed the catalogue")
			}
		})
	}
}

func TestAll_Order(t *testing.T) {
	t.Parallel()

	all := Default().All()
	if len(all) != 5 || all[0].Name() != "oracle" || all[0].Pause != 1.5 {
		t.Errorf("All()[0] = %+v", all[0])
	}
}
