// Package services wires the docstored subsystems together and exposes them
// through a single registry.
package services

import (
	"github.com/fyrsmithlabs/docstored/internal/cascade"
	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/ingest"
	"github.com/fyrsmithlabs/docstored/internal/maintenance"
	"github.com/fyrsmithlabs/docstored/internal/search"
	"github.com/fyrsmithlabs/docstored/internal/tasks"
)

// Registry provides access to all docstored services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Catalog() *catalog.Catalog
	Cascade() *cascade.Engine
	Tasks() *tasks.Tracker
	Search() search.Searcher
	Sweeper() *maintenance.Sweeper
	Pipeline() *ingest.Pipeline
}

// Options configures the registry with service instances.
type Options struct {
	Catalog  *catalog.Catalog
	Cascade  *cascade.Engine
	Tasks    *tasks.Tracker
	Search   search.Searcher
	Sweeper  *maintenance.Sweeper
	Pipeline *ingest.Pipeline
}

// registry is the concrete implementation of Registry.
type registry struct {
	catalog  *catalog.Catalog
	cascade  *cascade.Engine
	tasks    *tasks.Tracker
	search   search.Searcher
	sweeper  *maintenance.Sweeper
	pipeline *ingest.Pipeline
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		catalog:  opts.Catalog,
		cascade:  opts.Cascade,
		tasks:    opts.Tasks,
		search:   opts.Search,
		sweeper:  opts.Sweeper,
		pipeline: opts.Pipeline,
	}
}

func (r *registry) Catalog() *catalog.Catalog { return r.catalog }
func (r *registry) Cascade() *cascade.Engine { return r.cascade }
func (r *registry) Tasks() *tasks.Tracker { return r.tasks }
func (r *registry) Search() search.Searcher { return r.search }
func (r *registry) Sweeper() *maintenance.Sweeper { return r.sweeper }
func (r *registry) Pipeline() *ingest.Pipeline { return r.pipeline }
