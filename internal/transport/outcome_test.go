package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil is sent", err: nil, want: OutcomeSent},
		{name: "deadline is timeout", err: context.DeadlineExceeded, want: OutcomeTimeout},
		{name: "wrapped deadline is timeout", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: OutcomeTimeout},
		{name: "permanent is rejected", err: Permanent(errors.New("blocked")), want: OutcomeRejected},
		{name: "wrapped permanent is rejected", err: fmt.Errorf("send: %w", Permanentf("bad address %q", "x")), want: OutcomeRejected},
		{name: "plain error is transient", err: errors.New("connection reset"), want: OutcomeTransient},
		{name: "cancellation is transient", err: context.Canceled, want: OutcomeTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code      int
		permanent bool
	}{
		{code: 400, permanent: true},
		{code: 403, permanent: true},
		{code: 404, permanent: true},
		{code: 408, permanent: false},
		{code: 429, permanent: false},
		{code: 500, permanent: false},
		{code: 503, permanent: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("http_%d", tt.code), func(t *testing.T) {
			err := StatusError(tt.code, "send failed")
			if err == nil {
				t.Fatal("expected non-nil error")
			}
			if got := IsPermanent(err); got != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestPermanentNilStaysNil(t *testing.T) {
	t.Parallel()
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestPermanentUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("boom")
	if !errors.Is(Permanent(base), base) {
		t.Fatal("Permanent should unwrap to the base error")
	}
}
