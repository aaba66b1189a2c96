package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chaoschain/gateway/dkg"
)

// ComputeDKGRequest is the body of POST /dkg/compute.
type ComputeDKGRequest struct {
	Evidence []dkg.EvidencePackage `json:"evidence"`
	Config   *dkg.Config           `json:"config,omitempty"`
}

// ComputeDKGResponse carries the computed roots and weights plus any
// causality violations found in the evidence. Violations do not prevent
// a result unless they make the graph unusable.
type ComputeDKGResponse struct {
	*dkg.Result
	Violations []dkg.Violation `json:"violations,omitempty"`
}

func (a *API) computeDKG(c echo.Context) error {
	var req ComputeDKGRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed evidence request")
	}
	cfg := a.dkgCfg
	if req.Config != nil {
		cfg = *req.Config
	}

	res, err := dkg.Compute(req.Evidence, cfg)
	if err != nil {
		if errors.Is(err, dkg.ErrCycle) || errors.Is(err, dkg.ErrDuplicateID) ||
			errors.Is(err, dkg.ErrEmptyID) || errors.Is(err, dkg.ErrMethod) {
			return badRequest(err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, ComputeDKGResponse{
		Result:     res,
		Violations: dkg.VerifyCausality(req.Evidence),
	})
}
