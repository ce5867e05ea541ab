// Package track owns the client-side job tracking state machine: it polls
// one service request, reconciles every result into UI and map effects,
// and drives the terminal-state exit.
package track

import (
	"time"

	"roadassist/internal/geo"
	"roadassist/internal/model"
)

// Config holds the reducer's thresholds.
type Config struct {
	// ArrivalRadiusM is the distance under which the moving party counts
	// as arrived. Tunable, not load-bearing.
	ArrivalRadiusM float64
}

// State is the controller-owned tracking state for one request. It is
// never persisted and never shared between controllers.
type State struct {
	RequestID string
	Viewer    model.Role

	Status     model.RequestStatus
	AppliedSeq uint64

	Failures int
	ConnLost bool

	MapInitialized bool
	WatchStarted   bool
	SearchShown    bool
	ExhaustShown   bool
	OTPShown       bool
	Arrived        bool
	Terminal       bool

	BillStatus model.BillStatus

	OwnerLoc *model.GeoPoint
	MechLoc  *model.GeoPoint
}

// NewState returns the initial state for a request.
func NewState(requestID string, viewer model.Role) State {
	return State{RequestID: requestID, Viewer: viewer, BillStatus: model.BillNotCreated}
}

// Input is one event fed into the reducer.
type Input interface{ isInput() }

// PollResult is a successful poll, stamped with the sequence assigned when
// the request was issued.
type PollResult struct {
	Seq uint64
	Req model.ServiceRequest
}

// PollFailure is a failed poll. It never advances state.
type PollFailure struct {
	Seq uint64
	Err error
}

// OTPVerified is the viewer's OTP submission confirmed by the backend.
type OTPVerified struct{}

// ActionTerminal is a cancel/complete action confirmed server-side. The
// reducer re-checks terminality, so a concurrent poll that already applied
// a terminal status wins.
type ActionTerminal struct {
	Status model.RequestStatus
}

func (PollResult) isInput()     {}
func (PollFailure) isInput()    {}
func (OTPVerified) isInput()    {}
func (ActionTerminal) isInput() {}

// Effect is one side effect the controller must perform after a reduction.
// The reducer itself performs none.
type Effect interface{ isEffect() }

type ShowStatus struct{ Status model.RequestStatus }

// ShowSearch updates the radius/timer display while SEARCHING.
type ShowSearch struct {
	RadiusKm     float64
	NextRadiusKm float64
	TimeoutAt    time.Time
	CreatedAt    time.Time
}

// ShowSearchExhausted shows the "no mechanic found" banner while waiting
// for the server to confirm TIMEOUT.
type ShowSearchExhausted struct{}

type HideSearch struct{}

// InitMap creates the map centered on the stationary party, once.
type InitMap struct{ Center model.GeoPoint }

// StartOwnWatch begins the local position watch, once, for viewers that
// must report their own location.
type StartOwnWatch struct{}

// UpdateMarkers moves the mechanic marker and refreshes the route.
type UpdateMarkers struct {
	Mechanic model.GeoPoint
	Owner    model.GeoPoint
}

// ShowOTP displays the OTP box. Code is set for the mechanic (who reads
// it out) and empty for the owner (who types it in).
type ShowOTP struct{ Code string }

type HideOTP struct{}

// ShowBill updates the bill affordance.
type ShowBill struct{ Status model.BillStatus }

// EnableComplete gates the completion affordance; only a CONFIRMED bill
// enables it.
type EnableComplete struct{ Enabled bool }

type ShowArrived struct{}

type ConnectionLost struct{}
type ConnectionRestored struct{}

// Terminal ends tracking: stop polling and watches, clear the active-job
// pointer, navigate away. COMPLETED additionally persists the id for the
// rating flow.
type Terminal struct{ Status model.RequestStatus }

func (ShowStatus) isEffect()          {}
func (ShowSearch) isEffect()          {}
func (ShowSearchExhausted) isEffect() {}
func (HideSearch) isEffect()          {}
func (InitMap) isEffect()             {}
func (StartOwnWatch) isEffect()       {}
func (UpdateMarkers) isEffect()       {}
func (ShowOTP) isEffect()             {}
func (HideOTP) isEffect()             {}
func (ShowBill) isEffect()            {}
func (EnableComplete) isEffect()      {}
func (ShowArrived) isEffect()         {}
func (ConnectionLost) isEffect()      {}
func (ConnectionRestored) isEffect()  {}
func (Terminal) isEffect()            {}

// DiscardReason explains why a poll result produced no transition.
type DiscardReason string

const (
	DiscardNone     DiscardReason = ""
	DiscardTerminal DiscardReason = "terminal"
	DiscardStale    DiscardReason = "stale"
	DiscardRegress  DiscardReason = "regress"
)

const failureEscalation = 3

// Reduce is the pure transition function: given the previous state, one
// input, and the current time it returns the next state and the side
// effects to perform. No network, DOM, or map access happens here, which
// is what makes the properties testable without a browser.
func Reduce(cfg Config, st State, in Input, now time.Time) (State, []Effect, DiscardReason) {
	switch v := in.(type) {
	case PollResult:
		return reducePoll(cfg, st, v, now)
	case PollFailure:
		return reduceFailure(st, v)
	case OTPVerified:
		if st.Terminal {
			return st, nil, DiscardTerminal
		}
		if !st.OTPShown {
			return st, nil, DiscardNone
		}
		st.OTPShown = false
		return st, []Effect{HideOTP{}}, DiscardNone
	case ActionTerminal:
		if st.Terminal {
			return st, nil, DiscardTerminal
		}
		return applyTerminal(st, v.Status)
	}
	return st, nil, DiscardNone
}

func reduceFailure(st State, f PollFailure) (State, []Effect, DiscardReason) {
	if st.Terminal {
		return st, nil, DiscardTerminal
	}
	st.Failures++
	if st.Failures >= failureEscalation && !st.ConnLost {
		st.ConnLost = true
		return st, []Effect{ConnectionLost{}}, DiscardNone
	}
	return st, nil, DiscardNone
}

func reducePoll(cfg Config, st State, res PollResult, now time.Time) (State, []Effect, DiscardReason) {
	// Terminal latch: nothing may run after a terminal status applied.
	if st.Terminal {
		return st, nil, DiscardTerminal
	}
	// Serialize racing polls: never apply a response issued before the
	// last successfully applied one.
	if res.Seq <= st.AppliedSeq {
		return st, nil, DiscardStale
	}
	// Monotonic status: a late SEARCHING response cannot displace an
	// applied ACCEPTED.
	if res.Req.Status.Rank() < st.Status.Rank() {
		return st, nil, DiscardRegress
	}

	var effects []Effect
	st.AppliedSeq = res.Seq
	st.Failures = 0
	if st.ConnLost {
		st.ConnLost = false
		effects = append(effects, ConnectionRestored{})
	}

	req := res.Req
	statusChanged := req.Status != st.Status
	st.Status = req.Status
	if req.OwnerLocation != nil {
		st.OwnerLoc = req.OwnerLocation
	}
	if req.MechanicLocation != nil {
		st.MechLoc = req.MechanicLocation
	}
	if statusChanged {
		effects = append(effects, ShowStatus{Status: req.Status})
	}

	if req.Status.Terminal() {
		st2, terminalEffects, _ := applyTerminal(st, req.Status)
		return st2, append(effects, terminalEffects...), DiscardNone
	}

	// The map exists for every non-terminal phase once the stationary
	// party's location is known.
	if !st.MapInitialized && st.OwnerLoc != nil {
		st.MapInitialized = true
		effects = append(effects, InitMap{Center: *st.OwnerLoc})
	}

	switch req.Status {
	case model.StatusSearching:
		effects = append(effects, searchEffects(&st, req, now)...)
	case model.StatusAccepted:
		effects = append(effects, acceptedEffects(&st, req)...)
	case model.StatusInProgress:
		effects = append(effects, inProgressEffects(&st, req)...)
	}

	// Live markers and arrival apply whenever both parties are placed.
	if st.Status != model.StatusSearching && st.OwnerLoc != nil && st.MechLoc != nil {
		effects = append(effects, UpdateMarkers{Mechanic: *st.MechLoc, Owner: *st.OwnerLoc})
		if !st.Arrived && geo.DistanceMeters(*st.MechLoc, *st.OwnerLoc) <= cfg.ArrivalRadiusM {
			st.Arrived = true
			effects = append(effects, ShowArrived{})
		}
	}
	return st, effects, DiscardNone
}

func searchEffects(st *State, req model.ServiceRequest, now time.Time) []Effect {
	var effects []Effect
	st.SearchShown = true
	show := ShowSearch{
		RadiusKm:     req.SearchRadiusKm,
		NextRadiusKm: model.NextRadiusKm(req.SearchRadiusKm),
	}
	if req.TimeoutAt != nil {
		show.TimeoutAt = *req.TimeoutAt
	}
	if req.CreatedAt != nil {
		show.CreatedAt = *req.CreatedAt
	}
	effects = append(effects, show)
	// Last radius step with an elapsed window: the server will report
	// TIMEOUT on a following poll; show the banner but keep polling.
	if show.NextRadiusKm == 0 && req.TimeoutAt != nil && !req.TimeoutAt.After(now) && !st.ExhaustShown {
		st.ExhaustShown = true
		effects = append(effects, ShowSearchExhausted{})
	}
	return effects
}

func acceptedEffects(st *State, req model.ServiceRequest) []Effect {
	var effects []Effect
	if st.SearchShown {
		st.SearchShown = false
		effects = append(effects, HideSearch{})
	}
	// The mechanic reports their own position from acceptance onward.
	if !st.WatchStarted && st.Viewer == model.RoleMechanic {
		st.WatchStarted = true
		effects = append(effects, StartOwnWatch{})
	}
	otpOpen := req.AllowOTP || (req.OTP != "" && !req.OTPVerified)
	if otpOpen && !st.OTPShown {
		st.OTPShown = true
		code := ""
		if st.Viewer == model.RoleMechanic {
			code = req.OTP
		}
		effects = append(effects, ShowOTP{Code: code})
	}
	if !otpOpen && st.OTPShown {
		st.OTPShown = false
		effects = append(effects, HideOTP{})
	}
	return effects
}

func inProgressEffects(st *State, req model.ServiceRequest) []Effect {
	var effects []Effect
	if st.SearchShown {
		st.SearchShown = false
		effects = append(effects, HideSearch{})
	}
	if st.OTPShown {
		st.OTPShown = false
		effects = append(effects, HideOTP{})
	}
	bill := req.BillStatus
	if bill == "" {
		bill = model.BillNotCreated
	}
	if bill != st.BillStatus {
		st.BillStatus = bill
		effects = append(effects,
			ShowBill{Status: bill},
			EnableComplete{Enabled: bill == model.BillConfirmed},
		)
	}
	return effects
}

func applyTerminal(st State, status model.RequestStatus) (State, []Effect, DiscardReason) {
	st.Status = status
	st.Terminal = true
	var effects []Effect
	if st.SearchShown {
		st.SearchShown = false
		effects = append(effects, HideSearch{})
	}
	if st.OTPShown {
		st.OTPShown = false
		effects = append(effects, HideOTP{})
	}
	effects = append(effects, Terminal{Status: status})
	return st, effects, DiscardNone
}
