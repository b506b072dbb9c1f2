package gate

import (
	"net/http"

	"github.com/Matteomic94/ElementMedica-sub007/internal/fieldfilter"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/httpx"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Respond writes a successful payload, redacted to the fields the request
// decision exposes. Routes without a decision fail closed.
func Respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	d, ok := DecisionFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.Misconfigured("route %s has no authorization decision", r.URL.Path))
		return
	}
	httpx.JSON(w, status, fieldfilter.Filter(d.Grant.Fields, payload))
}

// RespondError writes an error response. Error bodies are never field filtered.
func RespondError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, err)
}
