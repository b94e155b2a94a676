package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/apperr"
)

// envelope is the uniform response shape every endpoint returns (§6.1):
// success always set, data on 2xx, error on failure, metadata optional.
type envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    *errorBody     `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func writeDataWithMeta(w http.ResponseWriter, status int, data any, meta map[string]any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data, Metadata: meta})
}

// writeErr maps an error through apperr's taxonomy to a status code and
// a stable code/message pair — never a raw error string, which could
// leak internal detail to the client.
func writeErr(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if ae, ok := apperr.As(err); ok {
		if ae.Kind == apperr.KindInternal {
			logger.Error().Err(ae.Err).Str("code", ae.Code).Msg("internal error reaching http boundary")
		}
		writeEnvelope(w, ae.Kind.HTTPStatus(), envelope{
			Success: false,
			Error:   &errorBody{Code: ae.Code, Message: ae.Message},
		})
		return
	}
	logger.Error().Err(err).Msg("unclassified error reaching http boundary")
	writeEnvelope(w, http.StatusInternalServerError, envelope{
		Success: false,
		Error:   &errorBody{Code: "internal", Message: "internal server error"},
	})
}

func writeValidationErr(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusBadRequest, envelope{
		Success: false,
		Error:   &errorBody{Code: "validation", Message: message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
