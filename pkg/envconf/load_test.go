package envconf

import (
	"errors"
	"testing"
	"time"
)

type pool struct {
	MaxConns int           `env:"TEST_POOL_MAX" default:"4"`
	Idle     time.Duration `env:"TEST_POOL_IDLE" default:"30s"`
}

type cfg struct {
	DSN      string  `env:"TEST_DSN"`
	Endpoint string  `env:"TEST_ENDPOINT" default:""`
	Ratio    float64 `env:"TEST_RATIO" default:"1.5"`
	Debug    *bool   `env:"TEST_DEBUG" default:"false"`
	Pool     pool
	Nested   *pool
	skipped  string `env:"TEST_SKIPPED"`
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_DSN", "postgres://x")
	t.Setenv("TEST_POOL_MAX", "16")
	t.Setenv("TEST_DEBUG", "true")

	var c cfg

	err := Load(&c)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.DSN != "postgres://x" || c.Endpoint != "" || c.Ratio != 1.5 {
		t.Fatalf("unexpected scalars: %+v", c)
	}

	if c.Debug == nil || !*c.Debug {
		t.Fatalf("debug: want true, got %v", c.Debug)
	}

	if c.Pool.MaxConns != 16 || c.Pool.Idle != 30*time.Second {
		t.Fatalf("pool: got %+v", c.Pool)
	}

	if c.Nested == nil || c.Nested.MaxConns != 16 {
		t.Fatalf("nested: got %+v", c.Nested)
	}

	if c.skipped != "" {
		t.Fatalf("unexported field must be ignored")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		dst     any
		wantErr error
	}{
		{
			name:    "missing required",
			env:     map[string]string{},
			dst:     &cfg{},
			wantErr: ErrMissingRequired,
		},
		{
			name: "unsupported type",
			env:  map[string]string{"TEST_SLICE": "a,b"},
			dst: &struct {
				S []string `env:"TEST_SLICE"`
			}{},
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load(tt.dst)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("TEST_DSN", "x")
		t.Setenv("TEST_POOL_IDLE", "soon")

		err := Load(&cfg{})
		if err == nil {
			t.Fatalf("want parse error")
		}
	})

	t.Run("not a pointer", func(t *testing.T) {
		err := Load(cfg{})
		if !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("want %v, got %v", ErrInvalidTarget, err)
		}
	})
}

func TestLoad_ReportsEveryField(t *testing.T) {
	t.Setenv("TEST_POOL_IDLE", "soon")
	t.Setenv("TEST_RATIO", "half")

	err := Load(&cfg{})
	if err == nil {
		t.Fatalf("want error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("want joined error, got %T", err)
	}

	got := map[string]bool{}

	for _, e := range joined.Unwrap() {
		var fe *FieldError
		if !errors.As(e, &fe) {
			t.Fatalf("want *FieldError, got %T", e)
		}

		got[fe.Var+"/"+fe.Field] = true
	}

	// Pool and Nested both read TEST_POOL_IDLE
	for _, want := range []string{"TEST_DSN/DSN", "TEST_RATIO/Ratio", "TEST_POOL_IDLE/Pool.Idle", "TEST_POOL_IDLE/Nested.Idle"} {
		if !got[want] {
			t.Fatalf("want %s reported, got %v", want, got)
		}
	}

	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("want errors.Is ErrMissingRequired")
	}
}
