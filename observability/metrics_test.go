package observability

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/types"
)

func TestLedgerObserveLabelsByRejection(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.operations.WithLabelValues("confirm_delivery", "DeliveryTimeout"))
	m.Observe("confirm_delivery", time.Millisecond, fmt.Errorf("offer 1: %w", escrowerrors.ErrDeliveryTimeout))
	after := testutil.ToFloat64(m.operations.WithLabelValues("confirm_delivery", "DeliveryTimeout"))
	if after-before != 1 {
		t.Fatalf("expected DeliveryTimeout counter to increase by 1, got %v", after-before)
	}

	okBefore := testutil.ToFloat64(m.operations.WithLabelValues("register", "ok"))
	m.Observe("register", time.Millisecond, nil)
	if testutil.ToFloat64(m.operations.WithLabelValues("register", "ok"))-okBefore != 1 {
		t.Fatalf("expected ok counter to increase")
	}
}

func TestLedgerPayoutsAndCustody(t *testing.T) {
	m := Ledger()
	failedBefore := testutil.ToFloat64(m.payoutErrs.WithLabelValues("balance"))
	m.RecordPayout("balance", false)
	if testutil.ToFloat64(m.payoutErrs.WithLabelValues("balance"))-failedBefore != 1 {
		t.Fatalf("expected payout failure to be recorded")
	}
	m.SetCustody("fees", big.NewInt(42))
	if got := testutil.ToFloat64(m.custody.WithLabelValues("fees")); got != 42 {
		t.Fatalf("unexpected custody gauge %v", got)
	}
}

func TestHTTPObserve(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.errors.WithLabelValues("/v1/offers", "POST", "409"))
	m.Observe("/v1/offers", "POST", 409, time.Millisecond)
	if testutil.ToFloat64(m.errors.WithLabelValues("/v1/offers", "POST", "409"))-before != 1 {
		t.Fatalf("expected 409 to be recorded")
	}
	if httpStatusLabel(42) != "unknown" || httpStatusLabel(502) != "502" {
		t.Fatalf("unexpected status labels")
	}
}

func TestEventsSink(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.committed.WithLabelValues("offer.created"))
	var sink events.Emitter = m
	sink.Emit(events.Wrapped{Evt: &types.Event{Type: "offer.created"}})
	if testutil.ToFloat64(m.committed.WithLabelValues("offer.created"))-before != 1 {
		t.Fatalf("expected event to be counted")
	}
}
