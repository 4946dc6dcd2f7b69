package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Success: status < http.StatusBadRequest, Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	status, msg, detailsAllowed := publicView(typed)

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: msg,
		},
	}

	if detailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		fields := dump.Fields()
		fields["http_status"] = status
		ctx = logg.WithFields(ctx, fields)
		if status >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	writeJSON(w, status, payload)
}

// publicView picks the status and message a client may see. Codes this
// service does not define came from upstream and keep their own status.
func publicView(typed *pkgerrors.Error) (int, string, bool) {
	code := typed.Code()
	if !pkgerrors.IsKnownCode(code) {
		status := typed.Status()
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		msg := typed.Message()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return status, msg, false
	}

	meta := pkgerrors.MetadataFor(code)
	msg := meta.PublicMessage
	switch code {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeRateLimit,
		pkgerrors.CodeNetwork,
		pkgerrors.CodeDependency:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}
	return meta.HTTPStatus, msg, meta.DetailsAllowed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
