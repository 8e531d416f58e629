package httpapi

import (
	"context"
	"net/http"
	"strings"

	"pkt.systems/occupd/api"
	"pkt.systems/occupd/internal/core"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

func (h *Handler) handleTake(w http.ResponseWriter, r *http.Request) error {
	if err := requirePost(r); err != nil {
		return err
	}
	var req api.TakeRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := h.core.Take(r.Context(), core.TakeCommand{
		UnitID:    req.UnitID,
		Worker:    req.Worker,
		Operation: machine.Operation(req.Operation),
	})
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, unitResponse(res.Unit), nil)
	return nil
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) error {
	if err := requirePost(r); err != nil {
		return err
	}
	var req api.PauseRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := h.core.Pause(r.Context(), core.PauseCommand{UnitID: req.UnitID, Worker: req.Worker})
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, unitResponse(res.Unit), nil)
	return nil
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) error {
	if err := requirePost(r); err != nil {
		return err
	}
	var req api.FinishRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := h.core.Finish(r.Context(), core.FinishCommand{
		UnitID:       req.UnitID,
		Worker:       req.Worker,
		Selection:    req.SubUnits,
		CompleteUnit: req.CompleteUnit,
	})
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.FinishResponse{
		Outcome:           string(res.Outcome),
		Achieved:          res.Achieved,
		Required:          res.Required,
		InspectionPending: res.InspectionPending,
		Unit:              unitResponse(res.Unit),
	}, nil)
	return nil
}

func (h *Handler) handleInspection(w http.ResponseWriter, r *http.Request) error {
	if err := requirePost(r); err != nil {
		return err
	}
	var req api.InspectionRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := h.core.RecordInspection(r.Context(), core.InspectionCommand{
		UnitID:   req.UnitID,
		Worker:   req.Worker,
		Approved: req.Approved,
	})
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.InspectionResponse{
		Result:       string(res.State),
		RepairState:  string(res.RepairState),
		RepairCycles: res.RepairCycles,
		Blocked:      res.Blocked,
		Unit:         unitResponse(res.Unit),
	}, nil)
	return nil
}

func (h *Handler) handleRepairStart(w http.ResponseWriter, r *http.Request) error {
	return h.handleRepair(w, r, h.core.StartRepair)
}

func (h *Handler) handleRepairComplete(w http.ResponseWriter, r *http.Request) error {
	return h.handleRepair(w, r, h.core.CompleteRepair)
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, cmd core.RepairCommand) (*core.RepairResult, error)) error {
	if err := requirePost(r); err != nil {
		return err
	}
	var req api.RepairRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := op(r.Context(), core.RepairCommand{UnitID: req.UnitID, Worker: req.Worker})
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.RepairResponse{
		RepairState: string(res.RepairState),
		Unit:        unitResponse(res.Unit),
	}, nil)
	return nil
}

func (h *Handler) handleGetUnit(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET"}
	}
	unitID := strings.TrimSpace(r.URL.Query().Get("unit_id"))
	if unitID == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_argument", Detail: "unit_id query parameter is required"}
	}
	unit, err := h.core.GetUnit(r.Context(), unitID)
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, unitResponse(unit), nil)
	return nil
}

func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET"}
	}
	units, err := h.core.ListUnits(r.Context())
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.ListUnitsResponse{Units: units}, nil)
	return nil
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET"}
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_argument", Detail: "key query parameter is required"}
	}
	unitID, err := h.core.FindUnitByKey(r.Context(), key)
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.ResolveResponse{Key: key, UnitID: unitID}, nil)
	return nil
}

func unitResponse(unit *unitstore.Unit) api.UnitResponse {
	resp := api.UnitResponse{
		UnitID:          unit.ID,
		Key:             unit.Key,
		Assembly:        progressInfo(unit.Assembly),
		Weld:            progressInfo(unit.Weld),
		InspectionState: string(unit.Inspection.State),
		RepairState:     string(unit.Repair.State),
		RepairCycles:    unit.RepairCycles,
		Blocked:         unit.Blocked,
		Version:         unit.Version,
	}
	if unit.Occupied != nil {
		resp.Occupied = &api.OccupationInfo{
			Holder:    unit.Occupied.Holder,
			Operation: string(unit.Occupied.Operation),
			Since:     unit.Occupied.Since,
		}
	}
	for _, sub := range unit.SubUnits {
		resp.SubUnits = append(resp.SubUnits, api.SubUnitInfo{
			ID:           sub.ID,
			Kind:         string(sub.Kind),
			AssemblyDone: sub.Assembly.Done(),
			WeldDone:     sub.Weld.Done(),
		})
	}
	return resp
}

func progressInfo(p unitstore.Progress) api.ProgressInfo {
	info := api.ProgressInfo{State: string(p.State), Worker: p.Worker}
	if !p.CompletedAt.IsZero() {
		at := p.CompletedAt
		info.CompletedAt = &at
	}
	return info
}
