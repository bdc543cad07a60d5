package api

import (
	"encoding/json"
	"errors"
	"net/http"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
)

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error         string    `json:"error"`
	Code          string    `json:"code,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Action        string    `json:"action,omitempty"`
	Limit         *int64    `json:"limit,omitempty"`
	Used          *int64    `json:"used,omitempty"`
	Remaining     *int64    `json:"remaining,omitempty"`
	CurrentPlan   plan.ID   `json:"currentPlan,omitempty"`
	RequiredPlans []plan.ID `json:"requiredPlans,omitempty"`
	Feature       string    `json:"feature,omitempty"`
	UpgradeURL    string    `json:"upgradeUrl,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, code billing.Code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: string(code)})
}

// writeError renders err with the status of its code.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}

	var (
		limitErr  *billing.LimitError
		accessErr *billing.AccessError
		coded     *billing.Error
	)
	switch {
	case errors.As(err, &limitErr):
		var zero int64
		body.Error = limitErr.Action + " limit exceeded"
		body.Code = string(billing.CodeUsageLimitExceeded)
		body.Action = limitErr.Action
		body.Limit = &limitErr.Limit
		body.Used = &limitErr.Used
		body.Remaining = &zero
		body.CurrentPlan = limitErr.PlanID
		body.UpgradeURL = limitErr.UpgradeURL
	case errors.As(err, &accessErr):
		body.Error = "plan upgrade required"
		if accessErr.Feature != "" {
			body.Error = "feature \"" + accessErr.Feature + "\" requires plan upgrade"
		}
		body.Code = string(accessErr.Code)
		body.CurrentPlan = accessErr.CurrentPlan
		body.RequiredPlans = accessErr.RequiredPlans
		body.Feature = accessErr.Feature
		body.UpgradeURL = accessErr.UpgradeURL
	case errors.As(err, &coded):
		body.Error = coded.Message
		body.Code = string(coded.Code)
		body.Detail = coded.Detail
	default:
		body.Error = "internal error"
	}

	writeJSON(w, billing.StatusCode(err), body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
