package events

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []string
	bus.Subscribe(LanguageChanged, func(payload any) {
		got = append(got, payload.(LanguagePayload).Lang)
	})
	bus.Subscribe(StatusUpdated, func(payload any) {
		t.Error("status handler should not receive language events")
	})

	bus.Publish(LanguageChanged, LanguagePayload{Lang: "id"})
	bus.Publish(LanguageChanged, LanguagePayload{Lang: "en"})

	if len(got) != 2 || got[0] != "id" || got[1] != "en" {
		t.Errorf("received %v, want [id en]", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	calls := 0
	unsubscribe := bus.Subscribe(ScanUpdated, func(any) { calls++ })
	other := 0
	bus.Subscribe(ScanUpdated, func(any) { other++ })

	bus.Publish(ScanUpdated, nil)
	unsubscribe()
	bus.Publish(ScanUpdated, nil)

	if calls != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("remaining handler called %d times, want 2", other)
	}
}

func TestBusHandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(VoucherChecked, func(any) { panic("boom") })
	bus.Subscribe(VoucherChecked, func(any) { delivered = true })

	bus.Publish(VoucherChecked, "code")

	if !delivered {
		t.Error("handler after a panicking one should still run")
	}
}
