package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// ERROR RESPONSES
// =============================================================================

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Errors []ErrorDTO `json:"errors"`
	Total  int        `json:"total_records"`
}

type ErrorDTO struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Parameters []finance.Parameter `json:"parameters,omitempty"`
}

func newErrorResponse(err error) ErrorResponse {
	fe := finance.AsError(err)
	msg := fe.Message
	if fe.Code == "genericError" {
		msg = "internal server error"
	}
	return ErrorResponse{
		Errors: []ErrorDTO{{Code: fe.Code, Message: msg, Parameters: fe.Parameters}},
		Total:  1,
	}
}

// =============================================================================
// COLLECTIONS
// =============================================================================

type RolloverErrorCollection struct {
	Errors []finance.LedgerFiscalYearRolloverError `json:"ledgerFiscalYearRolloverErrors"`
	Total  int                                     `json:"totalRecords"`
}

type RolloverBudgetCollection struct {
	Budgets []finance.RolloverBudget `json:"ledgerFiscalYearRolloverBudgets"`
	Total   int                      `json:"totalRecords"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// DECODING
// =============================================================================

const maxBodyBytes = 10 << 20

// decodeJSON reads a request body into v. Malformed input is a validation
// error so it maps to 400.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return finance.NewError(finance.ErrValidation, "emptyBody", "request body is empty")
		}
		return finance.NewError(finance.ErrValidation, "invalidJson",
			fmt.Sprintf("request body is not valid JSON: %v", err))
	}
	return nil
}
