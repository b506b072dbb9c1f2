// Package records exposes the generic entity API. Every handler reaches the
// store through the gate accessor only.
package records

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/httpx"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
	"github.com/Matteomic94/ElementMedica-sub007/internal/softdelete"
)

// Handler serves CRUD endpoints for every registered entity.
type Handler struct {
	logger    *slog.Logger
	gate      *gate.Gate
	validator *validator.Validate
}

// NewHandler builds a records handler.
func NewHandler(logger *slog.Logger, g *gate.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, gate: g, validator: validator.New()}
}

// MountRoutes registers the ordinary entity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{entity}", func(r chi.Router) {
		r.With(h.gate.RequireEntity(authz.ActionRead)).Get("/", h.list)
		r.With(h.gate.RequireEntity(authz.ActionRead)).Get("/count", h.count)
		r.With(h.gate.RequireEntity(authz.ActionCreate)).Post("/", h.create)
		r.With(h.gate.RequireEntity(authz.ActionCreate)).Post("/bulk", h.createMany)
		r.With(h.gate.RequireEntity(authz.ActionRead)).Get("/{id}", h.get)
		r.With(h.gate.RequireEntity(authz.ActionUpdate)).Patch("/{id}", h.update)
		r.With(h.gate.RequireEntity(authz.ActionDelete)).Delete("/{id}", h.remove)
	})
}

// MountAdmin registers deleted-row listing and restore.
func (h *Handler) MountAdmin(r chi.Router) {
	r.With(h.gate.RequireEntity(authz.ActionReadDeleted)).Get("/{entity}/deleted", h.listDeleted)
	r.With(h.gate.RequireEntity(authz.ActionRestore)).Post("/{entity}/{id}/restore", h.restore)
}

// MountErasure registers the hard delete endpoint.
func (h *Handler) MountErasure(r chi.Router) {
	r.With(h.gate.RequireEntity(authz.ActionErase)).Delete("/{entity}/{id}", h.erase)
}

type envelope struct {
	Data       any         `json:"data"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

type bulkPayload struct {
	Rows []datastore.Record `json:"rows" validate:"required,min=1,max=500"`
}

func (h *Handler) entity(r *http.Request) (policy.EntityPolicy, bool) {
	return h.gate.Policies().Lookup(strings.TrimSpace(chi.URLParam(r, "entity")))
}

func (h *Handler) byID(r *http.Request, pol policy.EntityPolicy) datastore.Filter {
	return datastore.Filter{pol.PrimaryKey: strings.TrimSpace(chi.URLParam(r, "id"))}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("records request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	gate.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(q); err != nil {
		h.fail(w, r, shared.Invalid("limit must be between 1 and %d and offset must not be negative", maxLimit))
		return
	}
	if err := guardQuery(r.Context(), pol, q.Where, q.OrderBy, true); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.Do(r.Context(), &datastore.Operation{
		Entity:  pol.Name,
		Kind:    datastore.KindRead,
		Where:   q.Where,
		Include: q.Include,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := data.Count(r.Context(), pol.Name, q.Where)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gate.Respond(w, r, http.StatusOK, envelope{
		Data:       nonNil(res.Records),
		Pagination: &pagination{Limit: q.Limit, Offset: q.Offset, Total: total},
	})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	where, err := parseFilterParam(r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := guardQuery(r.Context(), pol, where, nil, true); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := data.Count(r.Context(), pol.Name, where)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	include, err := parseInclude(r.URL.Query().Get("include"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := data.Find(r.Context(), pol.Name, h.byID(r, pol), include)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(rows) == 0 {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	gate.Respond(w, r, http.StatusOK, envelope{Data: rows[0]})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	var rec datastore.Record
	if err := httpx.DecodeJSON(r, &rec); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := checkRecord(rec); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := checkPrimaryKey(rec, pol.PrimaryKey); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := data.Create(r.Context(), pol.Name, rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gate.Respond(w, r, http.StatusCreated, envelope{Data: created})
}

func (h *Handler) createMany(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	var payload bulkPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		h.fail(w, r, shared.Invalid("rows must hold between 1 and 500 records"))
		return
	}
	for _, row := range payload.Rows {
		if err := checkRecord(row); err != nil {
			h.fail(w, r, err)
			return
		}
		if err := checkPrimaryKey(row, pol.PrimaryKey); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.Do(r.Context(), &datastore.Operation{Entity: pol.Name, Kind: datastore.KindCreateMany, Rows: payload.Rows})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gate.Respond(w, r, http.StatusCreated, envelope{Data: nonNil(res.Records)})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	var rec datastore.Record
	if err := httpx.DecodeJSON(r, &rec); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := checkRecord(rec); err != nil {
		h.fail(w, r, err)
		return
	}
	delete(rec, pol.PrimaryKey)
	if len(rec) == 0 {
		h.fail(w, r, shared.Invalid("the primary key cannot be changed"))
		return
	}
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.Update(r.Context(), pol.Name, h.byID(r, pol), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(res.Records) == 0 {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	gate.Respond(w, r, http.StatusOK, envelope{Data: res.Records[0]})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.Delete(r.Context(), pol.Name, h.byID(r, pol))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// Soft deletes are idempotent: a row that is already deleted, or that the
	// caller cannot see, still answers 204 and is left untouched.
	if res.Affected == 0 && !pol.SoftDeletes() {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listDeleted(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	if !pol.SoftDeletes() {
		h.fail(w, r, shared.Invalid("%s does not keep deleted rows", pol.Name))
		return
	}
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(q); err != nil {
		h.fail(w, r, shared.Invalid("limit must be between 1 and %d and offset must not be negative", maxLimit))
		return
	}
	if err := guardQuery(r.Context(), pol, q.Where, q.OrderBy, false); err != nil {
		h.fail(w, r, err)
		return
	}
	q.Where.Set(datastore.KeyAnd, append(andOf(q.Where), datastore.Filter{pol.SoftDeleteField: softdelete.DeletedCondition(pol)}))
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.FindIncludingDeleted(r.Context(), &datastore.Operation{
		Entity:  pol.Name,
		Kind:    datastore.KindRead,
		Where:   q.Where,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gate.Respond(w, r, http.StatusOK, envelope{Data: nonNil(res.Records)})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.Restore(r.Context(), pol.Name, h.byID(r, pol))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Affected == 0 && len(res.Records) == 0 {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	gate.Respond(w, r, http.StatusOK, envelope{Data: nonNil(res.Records)})
}

func (h *Handler) erase(w http.ResponseWriter, r *http.Request) {
	pol, _ := h.entity(r)
	data, err := h.gate.Data(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := data.HardDelete(r.Context(), pol.Name, h.byID(r, pol))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Affected == 0 {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func andOf(f datastore.Filter) []datastore.Filter {
	and, _ := f[datastore.KeyAnd].([]datastore.Filter)
	return and
}

func nonNil(rows []datastore.Record) []datastore.Record {
	if rows == nil {
		return []datastore.Record{}
	}
	return rows
}
