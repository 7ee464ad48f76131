package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/rebroadcastr/internal/repository"
)

// AlertHandler lists recorded alerts.
type AlertHandler struct {
	alerts repository.AlertRepository
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alerts repository.AlertRepository) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// Register registers the alert routes with the API.
func (h *AlertHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listAlerts",
		Method:      "GET",
		Path:        "/api/v1/alerts",
		Summary:     "List alerts",
		Description: "Returns recorded alerts, newest first",
		Tags:        []string{"Alerts"},
	}, h.List)
}

// List returns recorded alerts.
func (h *AlertHandler) List(ctx context.Context, input *AlertListInput) (*AlertListOutput, error) {
	alerts, err := h.alerts.List(ctx, input.CameraID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list alerts", err)
	}

	out := &AlertListOutput{}
	out.Body.Alerts = make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out.Body.Alerts = append(out.Body.Alerts, AlertFromModel(a))
	}
	return out, nil
}
