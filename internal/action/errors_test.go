package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		err   error
		want  Status
		after time.Duration
	}{
		{name: "nil is success", err: nil, want: StatusSuccess},
		{name: "already participant", err: ErrAlreadyParticipant, want: StatusAlreadyDone},
		{name: "not participant", err: ErrNotParticipant, want: StatusAlreadyDone},
		{name: "wrapped already participant", err: fmt.Errorf("join: %w", ErrAlreadyParticipant), want: StatusAlreadyDone},
		{name: "flood", err: Flood(42), want: StatusRateLimited, after: 42 * time.Second},
		{name: "wrapped flood", err: fmt.Errorf("send: %w", Flood(7)), want: StatusRateLimited, after: 7 * time.Second},
		{name: "forbidden", err: ErrForbidden, want: StatusForbidden},
		{name: "unauthorized", err: ErrUnauthorized, want: StatusSessionInvalid},
		{name: "canceled", err: context.Canceled, want: StatusTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: StatusTransient},
		{name: "unknown", err: errors.New("tcp reset"), want: StatusTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, after := Classify(tt.err)
			if got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
			if after != tt.after {
				t.Fatalf("retry after = %v, want %v", after, tt.after)
			}
		})
	}
}

func TestStatusOK(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusSuccess, StatusAlreadyDone} {
		if !s.OK() {
			t.Fatalf("%s.OK() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusRateLimited, StatusForbidden, StatusSessionInvalid, StatusTransient} {
		if s.OK() {
			t.Fatalf("%s.OK() = true, want false", s)
		}
	}
}
