package controllers

import (
	"net/http"
	"strings"

	"github.com/hogansalley/storefront/api/responses"
	"github.com/hogansalley/storefront/api/validators"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/realtime"
)

type PublishEventRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	EventType string `json:"eventType" validate:"omitempty,oneof=INSERT UPDATE DELETE"`
	Table     string `json:"table" validate:"max=64"`
}

// InventoryPublishEvent pushes a change event onto the configured transport,
// standing in for the database trigger in local and staging environments.
func InventoryPublishEvent(pub realtime.Publisher, table string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnavailable, "realtime transport not configured"))
			return
		}
		var body PublishEventRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		evt := realtime.Event{
			Table:     strings.TrimSpace(body.Table),
			ProductID: strings.TrimSpace(body.ProductID),
			Type:      body.EventType,
		}
		if evt.Table == "" {
			evt.Table = table
		}
		if evt.Type == "" {
			evt.Type = realtime.EventUpdate
		}

		if err := pub.Publish(r.Context(), evt); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish inventory event"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, evt)
	}
}
