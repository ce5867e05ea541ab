package model

import "time"

// Core domain types shared by the client packages.

type Role string

const (
	RoleOwner    Role = "owner"
	RoleMechanic Role = "mechanic"
)

// RequestStatus is the backend-owned lifecycle of a service request.
// It only moves forward; the client never writes it directly.
type RequestStatus string

const (
	StatusSearching  RequestStatus = "SEARCHING"
	StatusAccepted   RequestStatus = "ACCEPTED"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusTimeout    RequestStatus = "TIMEOUT"
)

// Rank orders statuses along the forward path. Terminal statuses share the
// top rank so a CANCELLED poll can never be displaced by a COMPLETED one
// arriving late, or vice versa.
func (s RequestStatus) Rank() int {
	switch s {
	case StatusSearching:
		return 1
	case StatusAccepted:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusCancelled, StatusTimeout:
		return 4
	}
	return 0
}

func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

type BillStatus string

const (
	BillNotCreated BillStatus = "NOT_CREATED"
	BillCreated    BillStatus = "CREATED"
	BillConfirmed  BillStatus = "CONFIRMED"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PartyInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ServiceRequest is the read-only projection returned by the request
// status endpoints. Optional fields are nil/zero outside the statuses that
// populate them.
type ServiceRequest struct {
	ID               string        `json:"request_id"`
	Status           RequestStatus `json:"status"`
	OwnerLocation    *GeoPoint     `json:"ownerLocation"`
	MechanicLocation *GeoPoint     `json:"mechanicLocation"`
	Owner            *PartyInfo    `json:"owner,omitempty"`
	Mechanic         *PartyInfo    `json:"mechanic,omitempty"`

	OTP         string `json:"otp,omitempty"`
	OTPVerified bool   `json:"otp_verified"`
	AllowOTP    bool   `json:"allowOtp"`

	SearchRadiusKm      float64    `json:"search_radius_km,omitempty"`
	RadiusExpandedCount int        `json:"radius_expanded_count,omitempty"`
	TimeoutAt           *time.Time `json:"timeout_at,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`

	BillStatus BillStatus `json:"bill_status,omitempty"`

	CanCancel   bool `json:"canCancel"`
	CanComplete bool `json:"canComplete"`
}

// RadiusSteps is the backend's fixed search-radius widening schedule in km.
var RadiusSteps = []float64{3, 5, 8, 12}

// NextRadiusKm returns the next widening step, or 0 when current is the
// last one.
func NextRadiusKm(current float64) float64 {
	for i, r := range RadiusSteps {
		if r == current && i+1 < len(RadiusSteps) {
			return RadiusSteps[i+1]
		}
	}
	return 0
}

type BillItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type BillService struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Bill struct {
	RequestID     string        `json:"request_id"`
	Items         []BillItem    `json:"items"`
	Services      []BillService `json:"services"`
	ItemsTotal    float64       `json:"items_total"`
	ServicesTotal float64       `json:"services_total"`
	GrandTotal    float64       `json:"grand_total"`
	Status        BillStatus    `json:"status"`
}

// Session is the locally persisted identity of the party running this
// client.
type Session struct {
	Role  Role   `json:"role"`
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// JobRecord is one archived request in the local history.
type JobRecord struct {
	ID          string        `json:"id"`
	RequestID   string        `json:"request_id"`
	Role        Role          `json:"role"`
	VehicleType string        `json:"vehicle_type,omitempty"`
	ServiceType string        `json:"service_type,omitempty"`
	Status      RequestStatus `json:"status"`
	Rating      int           `json:"rating,omitempty"`
	Feedback    string        `json:"feedback,omitempty"`
	ClosedAt    time.Time     `json:"closed_at"`
}

// NearbyRequest is one matchable open request shown to a mechanic.
type NearbyRequest struct {
	RequestID   string  `json:"request_id"`
	VehicleType string  `json:"vehicle_type"`
	ServiceType string  `json:"service_type"`
	DistanceKm  float64 `json:"distance_km"`
	Description string  `json:"issue_description"`
}
