package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/model"
)

// requestContext returns the caller's RequestContext, writing a 401 when the
// authentication chain did not produce one.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

// decodeBody reads a JSON object body, validates it against operationID's
// request schema when api is non-nil, and decodes it into dst. It writes the
// error response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, api *openapi.Index, operationID string, dst any) bool {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, model.NewBadRequestError("request body too large"))
			return false
		}
		WriteError(w, r, model.NewBadRequestError("unable to read request body"))
		return false
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
		return false
	}
	if api != nil {
		if errs := api.ValidateRequest(operationID, raw); len(errs) > 0 {
			WriteValidationError(w, r, errs)
			return false
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when it is absent
// or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
