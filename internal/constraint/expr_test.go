package constraint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herd/internal/pool"
)

func f(v float64) *float64 { return &v }

func TestCompileCEL(t *testing.T) {
	def, err := Compile(ExprSpec{
		Name:      "recent-failures",
		Test:      "value < 3.0 && worker_kind == 'trade'",
		OnFailure: f(1),
	})
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Register(def))

	trade := &pool.Worker{Index: 0, Identity: "a", Kind: "trade"}
	storage := &pool.Worker{Index: 1, Identity: "b", Kind: "storage"}

	assert.True(t, r.Evaluate("recent-failures", trade, nil))
	assert.False(t, r.Evaluate("recent-failures", storage, nil))

	for range 3 {
		r.ApplyFeedback("recent-failures", trade, nil, Failure)
	}
	assert.False(t, r.Evaluate("recent-failures", trade, nil))

	// No on_success: success feedback does nothing.
	r.ApplyFeedback("recent-failures", trade, nil, Success)
	v, _ := r.Value("recent-failures", 0)
	assert.Equal(t, 3.0, v)
}

func TestCompileCELArgs(t *testing.T) {
	def, err := Compile(ExprSpec{
		Name:      "profit",
		Test:      "args.receive > args.give",
		OnSuccess: f(1),
	})
	require.NoError(t, err)

	w := &pool.Worker{Index: 0, Identity: "a"}
	assert.True(t, def.Test(w, 0, map[string]any{"receive": 3.0, "give": 1.0}))
	assert.False(t, def.Test(w, 0, map[string]any{"receive": 1.0, "give": 3.0}))

	// Missing keys evaluate to an error, which makes the worker ineligible.
	assert.False(t, def.Test(w, 0, map[string]any{}))
}

func TestCompileJS(t *testing.T) {
	def, err := Compile(ExprSpec{
		Name:      "even",
		Engine:    "js",
		Test:      "worker_index % 2 === 0 && value < 10",
		Initial:   4,
		OnSuccess: f(3),
	})
	require.NoError(t, err)

	assert.Equal(t, 4.0, def.InitialValue(7))
	assert.True(t, def.Test(&pool.Worker{Index: 2}, 4, nil))
	assert.False(t, def.Test(&pool.Worker{Index: 3}, 4, nil))
	assert.False(t, def.Test(&pool.Worker{Index: 2}, 12, nil))

	delta, ok := def.OnSuccess(nil)
	assert.True(t, ok)
	assert.Equal(t, 3.0, delta)
	assert.Nil(t, def.OnFailure)
}

func TestCompileJSReadsArgs(t *testing.T) {
	def, err := Compile(ExprSpec{
		Name:      "min-items",
		Engine:    "js",
		Test:      "args.items.length >= 2",
		OnSuccess: f(1),
	})
	require.NoError(t, err)

	w := &pool.Worker{Index: 0}
	assert.True(t, def.Test(w, 0, map[string]any{"items": []any{"a", "b"}}))
	assert.False(t, def.Test(w, 0, map[string]any{"items": []any{"a"}}))
	// TypeError at runtime: ineligible, not a panic.
	assert.False(t, def.Test(w, 0, nil))
}

func TestCompileJSInterruptsRunawayScript(t *testing.T) {
	prev := jsDeadline
	jsDeadline = 20 * time.Millisecond
	t.Cleanup(func() { jsDeadline = prev })

	def, err := Compile(ExprSpec{
		Name:      "spin",
		Engine:    "js",
		Test:      "(function () { while (true) {} })()",
		OnSuccess: f(1),
	})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- def.Test(&pool.Worker{Index: 0}, 0, nil) }()
	select {
	case got := <-done:
		assert.False(t, got, "an interrupted script makes the worker ineligible")
	case <-time.After(5 * time.Second):
		t.Fatal("script was not interrupted")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		spec ExprSpec
	}{
		{"empty test", ExprSpec{Name: "a", OnSuccess: f(1)}},
		{"bad cel", ExprSpec{Name: "a", Test: "value <", OnSuccess: f(1)}},
		{"unknown cel variable", ExprSpec{Name: "a", Test: "bogus > 1", OnSuccess: f(1)}},
		{"bad js", ExprSpec{Name: "a", Engine: "js", Test: "value <", OnSuccess: f(1)}},
		{"unknown engine", ExprSpec{Name: "a", Engine: "lua", Test: "true", OnSuccess: f(1)}},
		{"no deltas", ExprSpec{Name: "a", Test: "true"}},
		{"no name", ExprSpec{Test: "true", OnSuccess: f(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec)
			assert.True(t, errors.Is(err, ErrInvalidDef), "got %v", err)
		})
	}
}
