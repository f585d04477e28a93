// Package records mounts the gated route table for the program's record types.
// The CRUD handlers themselves are supplied by the caller.
package records

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
)

// Handler serves one record type. {id} is available through chi.URLParam.
type Handler interface {
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Create(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
}

// Resource names one record type and its URL segment.
type Resource struct {
	Path string
	Name string
}

// Resources is the route table.
var Resources = []Resource{
	{Path: "personas-mayores", Name: "beneficiaries"},
	{Path: "personas-a-cargo", Name: "caregivers"},
	{Path: "centros", Name: "centers"},
	{Path: "actividades", Name: "activities"},
	{Path: "servicios", Name: "services"},
	{Path: "mantenciones", Name: "maintenance"},
	{Path: "trabajadores", Name: "support staff"},
}

// Mount registers every resource under r. Reads need Support, create and update need
// Manager, delete needs Admin. Resources without a handler answer 501 once admitted.
func Mount(r chi.Router, g *gate.Gate, handlers map[string]Handler) {
	read := g.Require(auth.RoleSupport, ratelimit.ClassRead)
	write := g.Require(auth.RoleManager, ratelimit.ClassWrite)
	remove := g.Require(auth.RoleAdmin, ratelimit.ClassWrite)

	for _, res := range Resources {
		h, ok := handlers[res.Path]
		if !ok || h == nil {
			h = notImplemented{name: res.Name}
		}
		r.Route("/"+res.Path, func(r chi.Router) {
			r.With(read).Get("/", h.List)
			r.With(read).Get("/{id}", h.Get)
			r.With(write).Post("/", h.Create)
			r.With(write).Put("/{id}", h.Update)
			r.With(remove).Delete("/{id}", h.Delete)
		})
	}
}

type notImplemented struct {
	name string
}

func (n notImplemented) respond(w http.ResponseWriter) {
	httpx.Error(w, http.StatusNotImplemented, httpx.CodeNotImplemented, n.name+" are not served by this instance", nil)
}

func (n notImplemented) List(w http.ResponseWriter, _ *http.Request)   { n.respond(w) }
func (n notImplemented) Get(w http.ResponseWriter, _ *http.Request)    { n.respond(w) }
func (n notImplemented) Create(w http.ResponseWriter, _ *http.Request) { n.respond(w) }
func (n notImplemented) Update(w http.ResponseWriter, _ *http.Request) { n.respond(w) }
func (n notImplemented) Delete(w http.ResponseWriter, _ *http.Request) { n.respond(w) }
