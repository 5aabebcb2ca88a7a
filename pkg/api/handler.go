// Package api provides framework-agnostic HTTP handlers for the billing
// engine: the scheduler-facing daily sweep endpoint and member onboarding.
// Authentication is a middleware concern; see the middleware packages.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/pkg/onboarding"
)

const dateLayout = "2006-01-02"

// Handler provides HTTP endpoints for sweep invocation and member onboarding
type Handler struct {
	config Config
}

// RunSweep executes the daily sweep and reports the result. Designed to be
// invoked by an external scheduler; re-invocations and retries are safe
// because the sweep itself is idempotent.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	day := membill.StartOfDayUTC(h.config.Now())
	if r.Body != nil && r.ContentLength != 0 {
		var req SweepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
			return
		}
		if req.Date != "" {
			parsed, err := time.Parse(dateLayout, req.Date)
			if err != nil {
				h.handleError(w, r, fmt.Errorf("invalid date %q: %w", req.Date, err), http.StatusBadRequest)
				return
			}
			day = parsed
		}
	}

	result, err := h.config.Engine.RunDailySweep(ctx, day)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("sweep failed: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, SweepResponse{
		Date:      day.Format(dateLayout),
		Processed: result.Processed,
		Created:   result.Created,
	})
}

// OnboardMember registers a member and opens their first contract and cycle.
// Conflicts are reported with 409 and a tagged body rather than an error, so
// front-desk clients can tell an existing member of their own gym from one
// registered elsewhere.
func (h *Handler) OnboardMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body OnboardRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	req, err := h.parseOnboardRequest(&body)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	result, err := h.config.Onboarding.OnboardMember(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, onboarding.ErrInvalidRequest) ||
			errors.Is(err, membill.ErrInvalidCadence) ||
			errors.Is(err, membill.ErrInvalidContract) {
			status = http.StatusBadRequest
		}
		h.handleError(w, r, err, status)
		return
	}

	status := http.StatusCreated
	if result.Kind != onboarding.Created {
		status = http.StatusConflict
	}
	h.writeJSON(w, status, toOnboardResponse(result))
}

func (h *Handler) parseOnboardRequest(body *OnboardRequest) (*onboarding.Request, error) {
	req := &onboarding.Request{
		TenantID:       body.TenantID,
		Name:           body.Name,
		Email:          body.Email,
		Phone:          body.Phone,
		Cadence:        membill.Cadence(body.Cadence),
		PaidAtCreation: body.PaidAtCreation,
	}

	if body.StartDate != "" {
		start, err := time.Parse(dateLayout, body.StartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date %q: %w", body.StartDate, err)
		}
		req.StartDate = start
	}
	if body.EndDate != "" {
		end, err := time.Parse(dateLayout, body.EndDate)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date %q: %w", body.EndDate, err)
		}
		req.EndDate = end
	}
	return req, nil
}

func toOnboardResponse(result *onboarding.Result) OnboardResponse {
	resp := OnboardResponse{
		Kind: string(result.Kind),
		Member: &MemberResponse{
			ID:       result.Member.ID,
			TenantID: result.Member.TenantID,
			Name:     result.Member.Name,
			Email:    result.Member.Email,
			Phone:    result.Member.Phone,
		},
	}
	if result.Contract != nil {
		resp.Contract = &ContractResponse{
			ID:        result.Contract.ID,
			MemberID:  result.Contract.MemberID,
			StartDate: result.Contract.StartDate.Format(dateLayout),
			EndDate:   result.Contract.EndDate.Format(dateLayout),
			Cadence:   string(result.Contract.Cadence),
			Status:    string(result.Contract.Status),
		}
	}
	if result.Cycle != nil {
		resp.Cycle = &CycleResponse{
			ContractID: result.Cycle.ContractID,
			CycleStart: result.Cycle.CycleStart.Format(dateLayout),
			CycleEnd:   result.Cycle.CycleEnd.Format(dateLayout),
			DueDate:    result.Cycle.DueDate.Format(dateLayout),
			Status:     string(result.Cycle.Status),
		}
		if result.Cycle.LastPaymentDate != nil {
			resp.Cycle.LastPaymentDate = result.Cycle.LastPaymentDate.Format(dateLayout)
		}
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already sent; nothing left to do.
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	h.config.Logger.Error("request failed",
		membill.Field{Key: "path", Value: r.URL.Path},
		membill.Field{Key: "status", Value: statusCode},
		membill.Field{Key: "error", Value: err.Error()},
	)

	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	h.writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}
