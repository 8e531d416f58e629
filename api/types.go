// Package api defines the JSON wire types for the occupd HTTP API.
package api

import "time"

// TakeRequest models the JSON payload for POST /v1/take.
type TakeRequest struct {
	// UnitID identifies the unit to claim.
	UnitID string `json:"unit_id"`
	// Worker identifies the claiming worker.
	Worker string `json:"worker"`
	// Operation is one of assembly, weld, inspection, repair.
	Operation string `json:"operation"`
}

// PauseRequest models POST /v1/pause: release without completion data.
type PauseRequest struct {
	// UnitID identifies the occupied unit.
	UnitID string `json:"unit_id"`
	// Worker must be the current holder.
	Worker string `json:"worker"`
}

// FinishRequest models POST /v1/finish. An empty SubUnits list with
// CompleteUnit false is a valid release that records no completions.
type FinishRequest struct {
	// UnitID identifies the occupied unit.
	UnitID string `json:"unit_id"`
	// Worker must be the current holder.
	Worker string `json:"worker"`
	// SubUnits lists the sub-unit ids completed during this session.
	SubUnits []string `json:"sub_units,omitempty"`
	// CompleteUnit marks the whole operation done on units that do not
	// track sub-units.
	CompleteUnit bool `json:"complete_unit,omitempty"`
}

// FinishResponse reports the auto-determination verdict for a finish.
type FinishResponse struct {
	// Outcome is complete, pause or released.
	Outcome string `json:"outcome"`
	// Achieved is the number of sub-units complete after this finish.
	Achieved int `json:"achieved"`
	// Required is the fresh total of sub-units requiring the operation.
	Required int `json:"required"`
	// InspectionPending reports whether this finish armed the inspection.
	InspectionPending bool `json:"inspection_pending,omitempty"`
	// Unit is the resulting unit snapshot.
	Unit UnitResponse `json:"unit"`
}

// InspectionRequest models POST /v1/inspection.
type InspectionRequest struct {
	// UnitID identifies the unit held for inspection.
	UnitID string `json:"unit_id"`
	// Worker must hold the unit for inspection.
	Worker string `json:"worker"`
	// Approved records the decision: true approves, false rejects.
	Approved bool `json:"approved"`
}

// InspectionResponse reports the decision and the repair routing.
type InspectionResponse struct {
	// Result is approved or rejected.
	Result string `json:"result"`
	// RepairState is the repair machine state after routing.
	RepairState string `json:"repair_state,omitempty"`
	// RepairCycles is the reject-after-repair counter.
	RepairCycles int `json:"repair_cycles"`
	// Blocked reports whether the unit hit the repair-cycle lockout.
	Blocked bool `json:"blocked,omitempty"`
	// Unit is the resulting unit snapshot.
	Unit UnitResponse `json:"unit"`
}

// RepairRequest models POST /v1/repair/start and POST /v1/repair/complete.
type RepairRequest struct {
	// UnitID identifies the unit held for repair.
	UnitID string `json:"unit_id"`
	// Worker must hold the unit for repair.
	Worker string `json:"worker"`
}

// RepairResponse reports the repair machine state after the transition.
type RepairResponse struct {
	// RepairState is rejected, in_repair, pending or blocked.
	RepairState string `json:"repair_state"`
	// Unit is the resulting unit snapshot.
	Unit UnitResponse `json:"unit"`
}

// OccupationInfo describes the current holder of a unit.
type OccupationInfo struct {
	// Holder is the occupying worker.
	Holder string `json:"holder"`
	// Operation is the operation the holder claimed the unit for.
	Operation string `json:"operation"`
	// Since is when the occupation was recorded.
	Since time.Time `json:"since"`
}

// ProgressInfo describes one operation marker on a unit.
type ProgressInfo struct {
	// State is pending, in_progress or complete.
	State string `json:"state"`
	// Worker last advanced the marker.
	Worker string `json:"worker,omitempty"`
	// CompletedAt is set when State is complete.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubUnitInfo describes one tracked sub-unit.
type SubUnitInfo struct {
	// ID identifies the sub-unit within its unit.
	ID string `json:"id"`
	// Kind is assembly or assembly+weld.
	Kind string `json:"kind"`
	// AssemblyDone reports whether the assembly completion is stamped.
	AssemblyDone bool `json:"assembly_done"`
	// WeldDone reports whether the weld completion is stamped.
	WeldDone bool `json:"weld_done,omitempty"`
}

// UnitResponse is the unit snapshot returned by queries and mutations.
type UnitResponse struct {
	// UnitID identifies the unit.
	UnitID string `json:"unit_id"`
	// Key is the external lookup key, when one is assigned.
	Key string `json:"key,omitempty"`
	// Assembly is the unit-level assembly marker.
	Assembly ProgressInfo `json:"assembly"`
	// Weld is the unit-level weld marker.
	Weld ProgressInfo `json:"weld"`
	// InspectionState is empty, pending, approved or rejected.
	InspectionState string `json:"inspection_state,omitempty"`
	// RepairState is empty, rejected, in_repair, pending or blocked.
	RepairState string `json:"repair_state,omitempty"`
	// RepairCycles counts reject-after-repair loops.
	RepairCycles int `json:"repair_cycles,omitempty"`
	// Blocked reports the repair-cycle lockout.
	Blocked bool `json:"blocked,omitempty"`
	// Occupied describes the current holder, when the unit is occupied.
	Occupied *OccupationInfo `json:"occupied,omitempty"`
	// Version is the monotonic version token for optimistic concurrency.
	Version int64 `json:"version"`
	// SubUnits lists tracked sub-units; empty for untracked units.
	SubUnits []SubUnitInfo `json:"sub_units,omitempty"`
}

// ListUnitsResponse enumerates unit ids.
type ListUnitsResponse struct {
	// Units lists the known unit ids.
	Units []string `json:"units"`
}

// ResolveResponse maps an external key to a unit id.
type ResolveResponse struct {
	// Key is the external lookup key.
	Key string `json:"key"`
	// UnitID is the resolved unit.
	UnitID string `json:"unit_id"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable occupd error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
	// CurrentVersion returns the server's current version for conflict diagnostics.
	CurrentVersion int64 `json:"current_version,omitempty"`
	// RetryAfterSeconds is the server-provided retry hint in seconds.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}
