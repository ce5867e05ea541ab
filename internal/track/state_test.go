package track

import (
	"errors"
	"testing"
	"time"

	"roadassist/internal/model"
)

var now = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func gp(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lng: lng} }

func poll(seq uint64, req model.ServiceRequest) PollResult {
	if req.ID == "" {
		req.ID = "req-1"
	}
	return PollResult{Seq: seq, Req: req}
}

func reduce(t *testing.T, st State, in Input) (State, []Effect) {
	t.Helper()
	next, effects, discard := Reduce(Config{ArrivalRadiusM: 30}, st, in, now)
	if discard != DiscardNone {
		t.Fatalf("unexpected discard %q", discard)
	}
	return next, effects
}

func has[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func find[T Effect](t *testing.T, effects []Effect) T {
	t.Helper()
	for _, e := range effects {
		if v, ok := e.(T); ok {
			return v
		}
	}
	var zero T
	t.Fatalf("effect %T not emitted in %v", zero, effects)
	return zero
}

func TestStatusNeverRegresses(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, _ = reduce(t, st, poll(1, model.ServiceRequest{Status: model.StatusSearching, OwnerLocation: gp(12.97, 77.59)}))
	st, _ = reduce(t, st, poll(2, model.ServiceRequest{Status: model.StatusAccepted, OwnerLocation: gp(12.97, 77.59)}))

	// A SEARCHING response from a slower earlier request arrives late.
	next, effects, discard := Reduce(Config{}, st, poll(3, model.ServiceRequest{Status: model.StatusSearching}), now)
	if discard != DiscardRegress {
		t.Fatalf("discard = %q, want %q", discard, DiscardRegress)
	}
	if next.Status != model.StatusAccepted {
		t.Fatalf("status regressed to %s", next.Status)
	}
	if len(effects) != 0 {
		t.Fatalf("regressing poll produced effects: %v", effects)
	}
}

func TestStaleSequenceDiscarded(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, _ = reduce(t, st, poll(5, model.ServiceRequest{Status: model.StatusSearching, OwnerLocation: gp(1, 1)}))

	_, _, discard := Reduce(Config{}, st, poll(3, model.ServiceRequest{Status: model.StatusSearching}), now)
	if discard != DiscardStale {
		t.Fatalf("discard = %q, want %q", discard, DiscardStale)
	}
}

func TestTerminalLatch(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, effects := reduce(t, st, poll(1, model.ServiceRequest{Status: model.StatusTimeout}))
	if !st.Terminal {
		t.Fatal("terminal status did not latch")
	}
	term := find[Terminal](t, effects)
	if term.Status != model.StatusTimeout {
		t.Fatalf("terminal status = %s", term.Status)
	}

	// Everything after the latch is discarded, including later terminals.
	for _, in := range []Input{
		poll(2, model.ServiceRequest{Status: model.StatusSearching}),
		poll(3, model.ServiceRequest{Status: model.StatusCompleted}),
		Input(PollFailure{Seq: 4, Err: errors.New("boom")}),
		Input(ActionTerminal{Status: model.StatusCancelled}),
	} {
		next, effects, discard := Reduce(Config{}, st, in, now)
		if discard != DiscardTerminal {
			t.Fatalf("input %T: discard = %q, want %q", in, discard, DiscardTerminal)
		}
		if len(effects) != 0 || !next.Terminal || next.Status != model.StatusTimeout {
			t.Fatalf("input %T escaped the terminal latch: %v", in, effects)
		}
	}
}

// A delayed SEARCHING response racing a TIMEOUT must not revive the search
// UI after the terminal screen.
func TestOutOfOrderTimeoutThenSearching(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, _ = reduce(t, st, poll(1, model.ServiceRequest{
		Status:         model.StatusSearching,
		OwnerLocation:  gp(1, 1),
		SearchRadiusKm: 12,
	}))

	// Poll 3 (TIMEOUT) returns before poll 2 (SEARCHING).
	st, effects := reduce(t, st, poll(3, model.ServiceRequest{Status: model.StatusTimeout}))
	if !has[Terminal](effects) || !has[HideSearch](effects) {
		t.Fatalf("timeout effects = %v", effects)
	}
	_, effects, discard := Reduce(Config{}, st, poll(2, model.ServiceRequest{Status: model.StatusSearching, SearchRadiusKm: 12}), now)
	if discard != DiscardTerminal || len(effects) != 0 {
		t.Fatalf("late SEARCHING after TIMEOUT: discard=%q effects=%v", discard, effects)
	}
}

func TestSearchRadiusProgression(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, effects := reduce(t, st, poll(1, model.ServiceRequest{
		Status:         model.StatusSearching,
		OwnerLocation:  gp(12.97, 77.59),
		SearchRadiusKm: 3,
	}))
	show := find[ShowSearch](t, effects)
	if show.RadiusKm != 3 || show.NextRadiusKm != 5 {
		t.Fatalf("radius display = %+v", show)
	}
	if !has[InitMap](effects) {
		t.Fatal("map not initialized on first poll with owner location")
	}

	st, effects = reduce(t, st, poll(2, model.ServiceRequest{
		Status:         model.StatusSearching,
		SearchRadiusKm: 5,
	}))
	show = find[ShowSearch](t, effects)
	if show.RadiusKm != 5 || show.NextRadiusKm != 8 {
		t.Fatalf("radius display = %+v", show)
	}
	if has[InitMap](effects) {
		t.Fatal("map initialized twice")
	}

	_, effects = reduce(t, st, poll(3, model.ServiceRequest{
		Status:           model.StatusAccepted,
		MechanicLocation: gp(12.99, 77.60),
	}))
	if !has[HideSearch](effects) {
		t.Fatal("search panel not hidden on acceptance")
	}
}

func TestSearchExhaustedBannerOnce(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	expired := now.Add(-time.Minute)
	req := model.ServiceRequest{
		Status:         model.StatusSearching,
		OwnerLocation:  gp(1, 1),
		SearchRadiusKm: 12,
		TimeoutAt:      &expired,
	}
	st, effects := reduce(t, st, poll(1, req))
	if !has[ShowSearchExhausted](effects) {
		t.Fatalf("no exhausted banner at last radius past timeout: %v", effects)
	}
	// Polling continues while the server decides; the banner shows once.
	_, effects = reduce(t, st, poll(2, req))
	if has[ShowSearchExhausted](effects) {
		t.Fatal("exhausted banner repeated")
	}
}

func TestConnectionLostAfterThreeFailures(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	err := errors.New("dial tcp: timeout")

	var effects []Effect
	st, effects = reduce(t, st, PollFailure{Seq: 1, Err: err})
	if has[ConnectionLost](effects) {
		t.Fatal("escalated after one failure")
	}
	st, effects = reduce(t, st, PollFailure{Seq: 2, Err: err})
	if has[ConnectionLost](effects) {
		t.Fatal("escalated after two failures")
	}
	st, effects = reduce(t, st, PollFailure{Seq: 3, Err: err})
	if !has[ConnectionLost](effects) {
		t.Fatal("no escalation after three failures")
	}
	st, effects = reduce(t, st, PollFailure{Seq: 4, Err: err})
	if has[ConnectionLost](effects) {
		t.Fatal("escalation repeated")
	}

	// One success restores the banner and resets the count.
	st, effects = reduce(t, st, poll(5, model.ServiceRequest{Status: model.StatusSearching, OwnerLocation: gp(1, 1)}))
	if !has[ConnectionRestored](effects) || st.Failures != 0 {
		t.Fatalf("restore: failures=%d effects=%v", st.Failures, effects)
	}
}

func TestMechanicViewerStartsOwnWatchOnce(t *testing.T) {
	st := NewState("req-1", model.RoleMechanic)
	accepted := model.ServiceRequest{
		Status:        model.StatusAccepted,
		OwnerLocation: gp(1, 1),
		OTP:           "4821",
	}
	st, effects := reduce(t, st, poll(1, accepted))
	if !has[StartOwnWatch](effects) {
		t.Fatal("mechanic watch not started on acceptance")
	}
	otp := find[ShowOTP](t, effects)
	if otp.Code != "4821" {
		t.Fatalf("mechanic OTP code = %q", otp.Code)
	}
	_, effects = reduce(t, st, poll(2, accepted))
	if has[StartOwnWatch](effects) {
		t.Fatal("watch started twice")
	}
}

func TestOwnerNeverSeesOTPCode(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, effects := reduce(t, st, poll(1, model.ServiceRequest{
		Status:        model.StatusAccepted,
		OwnerLocation: gp(1, 1),
		AllowOTP:      true,
		OTP:           "4821",
	}))
	otp := find[ShowOTP](t, effects)
	if otp.Code != "" {
		t.Fatalf("owner shown the code %q", otp.Code)
	}
	if has[StartOwnWatch](effects) {
		t.Fatal("owner viewer started a position watch")
	}

	_, effects = reduce(t, st, OTPVerified{})
	if !has[HideOTP](effects) {
		t.Fatal("OTP box not hidden after verification")
	}
}

func TestOTPVerifiedWithoutShownBoxIsQuiet(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, effects := reduce(t, st, OTPVerified{})
	if len(effects) != 0 {
		t.Fatalf("hide emitted for a box that was never drawn: %v", effects)
	}

	// A verification already reflected by polling must not hide twice.
	st, _ = reduce(t, st, poll(1, model.ServiceRequest{
		Status:        model.StatusAccepted,
		OwnerLocation: gp(1, 1),
		AllowOTP:      true,
	}))
	st, _ = reduce(t, st, OTPVerified{})
	_, effects = reduce(t, st, OTPVerified{})
	if has[HideOTP](effects) {
		t.Fatal("hide repeated after the box was already closed")
	}
}

func TestBillTransitionsGateCompletion(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	base := model.ServiceRequest{Status: model.StatusInProgress, OwnerLocation: gp(1, 1)}

	st, effects := reduce(t, st, poll(1, base))
	if has[ShowBill](effects) {
		t.Fatalf("bill effect before the bill changed: %v", effects)
	}

	base.BillStatus = model.BillCreated
	st, effects = reduce(t, st, poll(2, base))
	if find[ShowBill](t, effects).Status != model.BillCreated {
		t.Fatal("CREATED bill not surfaced")
	}
	if find[EnableComplete](t, effects).Enabled {
		t.Fatal("completion enabled before the bill is confirmed")
	}

	base.BillStatus = model.BillConfirmed
	st, effects = reduce(t, st, poll(3, base))
	if !find[EnableComplete](t, effects).Enabled {
		t.Fatal("completion not enabled by a confirmed bill")
	}

	// Unchanged bill on the next poll stays quiet.
	_, effects = reduce(t, st, poll(4, base))
	if has[ShowBill](effects) {
		t.Fatal("bill effect repeated without a change")
	}
}

func TestArrivalLatch(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	owner := gp(12.9700, 77.5900)
	far := gp(12.9900, 77.5900)
	near := gp(12.97001, 77.59001) // under 30m away

	st, effects := reduce(t, st, poll(1, model.ServiceRequest{Status: model.StatusAccepted, OwnerLocation: owner, MechanicLocation: far}))
	if has[ShowArrived](effects) {
		t.Fatal("arrived while far away")
	}
	if !has[UpdateMarkers](effects) {
		t.Fatal("markers not updated with both locations known")
	}

	st, effects = reduce(t, st, poll(2, model.ServiceRequest{Status: model.StatusAccepted, OwnerLocation: owner, MechanicLocation: near}))
	if !has[ShowArrived](effects) {
		t.Fatal("no arrival inside the radius")
	}
	_, effects = reduce(t, st, poll(3, model.ServiceRequest{Status: model.StatusAccepted, OwnerLocation: owner, MechanicLocation: near}))
	if has[ShowArrived](effects) {
		t.Fatal("arrival announced twice")
	}
}

func TestActionTerminalYieldsToAppliedTerminal(t *testing.T) {
	st := NewState("req-1", model.RoleOwner)
	st, _ = reduce(t, st, poll(1, model.ServiceRequest{Status: model.StatusCompleted}))

	next, _, discard := Reduce(Config{}, st, ActionTerminal{Status: model.StatusCancelled}, now)
	if discard != DiscardTerminal || next.Status != model.StatusCompleted {
		t.Fatalf("cancel action displaced COMPLETED: %s", next.Status)
	}
}
