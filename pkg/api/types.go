package api

// SweepRequest is the optional body for the daily sweep endpoint. Date
// overrides the sweep day (format 2006-01-02); empty means today.
type SweepRequest struct {
	Date string `json:"date,omitempty"`
}

// SweepResponse reports what one sweep invocation did
type SweepResponse struct {
	Date      string `json:"date"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
}

// OnboardRequest is the body for the member onboarding endpoint. Dates use
// the format 2006-01-02; EndDate empty means one cadence period.
type OnboardRequest struct {
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date,omitempty"`
	Cadence        string `json:"cadence"`
	PaidAtCreation bool   `json:"paid_at_creation"`
}

// OnboardResponse is the tagged outcome of an onboarding attempt. Member is
// always set; Contract and Cycle only when Kind is "created".
type OnboardResponse struct {
	Kind     string            `json:"kind"` // "created", "conflict_same_tenant", "conflict_other_tenant"
	Member   *MemberResponse   `json:"member"`
	Contract *ContractResponse `json:"contract,omitempty"`
	Cycle    *CycleResponse    `json:"cycle,omitempty"`
}

// MemberResponse is the JSON shape of a member
type MemberResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// ContractResponse is the JSON shape of a contract
type ContractResponse struct {
	ID        string `json:"id"`
	MemberID  string `json:"member_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Cadence   string `json:"cadence"`
	Status    string `json:"status"`
}

// CycleResponse is the JSON shape of a billing cycle
type CycleResponse struct {
	ContractID      string `json:"contract_id"`
	CycleStart      string `json:"cycle_start"`
	CycleEnd        string `json:"cycle_end"`
	DueDate         string `json:"due_date"`
	Status          string `json:"status"`
	LastPaymentDate string `json:"last_payment_date,omitempty"`
}

// ErrorResponse is the JSON shape of an error
type ErrorResponse struct {
	Error string `json:"error"`
}
