package transport

import (
	"context"
	"reflect"
	"testing"
)

type fakeAdapter struct{ name string }

func (f fakeAdapter) Name() string { return f.name }
func (f fakeAdapter) Send(ctx context.Context, address string, msg Message) (SendResult, error) {
	return SendResult{}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(fakeAdapter{name: ChannelSMS}, fakeAdapter{name: ChannelTelegram})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if !r.Has(ChannelTelegram) || !r.Has(ChannelSMS) {
		t.Fatal("expected registered channels")
	}
	if r.Has(ChannelEmail) {
		t.Fatal("email should not be registered")
	}
	if _, ok := r.Get(ChannelBot); ok {
		t.Fatal("bot should not resolve")
	}

	want := []string{ChannelSMS, ChannelTelegram}
	if got := r.Channels(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Channels() = %v, want %v", got, want)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()
	if _, err := NewRegistry(fakeAdapter{name: "sms"}, fakeAdapter{name: "sms"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := NewRegistry(fakeAdapter{name: ""}); err == nil {
		t.Fatal("expected empty-name error")
	}
}
