package lending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	window := 30 * time.Second

	tests := []struct {
		name   string
		isLent bool
		state  *LendingState
		touch  time.Time
		want   Operation
	}{
		{
			name:   "first touch lends",
			isLent: false, state: nil,
			touch: base, want: OpLend,
		},
		{
			name:   "lent card returns",
			isLent: true, state: nil,
			touch: base, want: OpReturn,
		},
		{
			name:   "touch 10s after lend undoes the lend",
			isLent: true, state: &LendingState{LastOp: OpLend, At: base},
			touch: base.Add(10 * time.Second), want: OpReturn,
		},
		{
			name:   "touch 45s after lend follows the flag",
			isLent: true, state: &LendingState{LastOp: OpLend, At: base},
			touch: base.Add(45 * time.Second), want: OpReturn,
		},
		{
			name:   "touch 10s after return lends again",
			isLent: false, state: &LendingState{LastOp: OpReturn, At: base},
			touch: base.Add(10 * time.Second), want: OpLend,
		},
		{
			name:   "inside the window the last operation overrides a stale flag",
			isLent: false, state: &LendingState{LastOp: OpLend, At: base},
			touch: base.Add(10 * time.Second), want: OpReturn,
		},
		{
			name:   "outside the window the flag wins",
			isLent: false, state: &LendingState{LastOp: OpLend, At: base},
			touch: base.Add(31 * time.Second), want: OpLend,
		},
		{
			name:   "exactly 30s is outside the window",
			isLent: true, state: &LendingState{LastOp: OpReturn, At: base},
			touch: base.Add(30 * time.Second), want: OpReturn,
		},
		{
			name:   "one nanosecond short of 30s is inside",
			isLent: true, state: &LendingState{LastOp: OpReturn, At: base},
			touch: base.Add(30*time.Second - time.Nanosecond), want: OpLend,
		},
		{
			name:   "state without an operation is ignored",
			isLent: false, state: &LendingState{At: base},
			touch: base.Add(5 * time.Second), want: OpLend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.isLent, tt.state, tt.touch, window)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperation_Inverse(t *testing.T) {
	assert.Equal(t, OpReturn, OpLend.Inverse())
	assert.Equal(t, OpLend, OpReturn.Inverse())
}
