// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"strings"
	"sync/atomic"

	"github.com/xrmsql/engine/coretypes"
)

// AttributeDescriptor describes one attribute (column) of an entity.
type AttributeDescriptor struct {
	LogicalName  string
	Tag          coretypes.Tag
	Required     bool
	IsPrimaryKey bool
	// LookupTargets holds the entity logical names this attribute can
	// reference, when it is a lookup attribute.
	LookupTargets []string
	DisplayLabel  string
}

// OptionSetValueDescriptor enumerates one allowed value of an attribute
// backed by an option set.
type OptionSetValueDescriptor struct {
	Code  int64
	Label string
}

// RelationshipDescriptor describes a 1:N or N:1 relationship between two
// entities, used by the plan builder to resolve implicit joins.
type RelationshipDescriptor struct {
	Name             string
	FromEntity       string
	FromAttribute    string
	ToEntity         string
	ToAttribute      string
}

// EntityDescriptor is a schema cache entry for one entity.
type EntityDescriptor struct {
	LogicalName   string
	PrimaryKey    string
	Attributes    map[string]AttributeDescriptor
	OptionSets    map[string][]OptionSetValueDescriptor
	Relationships []RelationshipDescriptor
	// AttributeOrder is the declared column order used for `SELECT *`
	// expansion; Attributes alone does not preserve one.
	AttributeOrder []string
}

// Schema builds a coretypes.Schema for the named columns, in the order
// given, resolving each to its cached type tag. An attribute absent from
// the cache (a computed or virtual column) defaults to coretypes.Text,
// the same fallback the XML query generator's virtual-column map uses for
// client-synthesized columns.
func (e EntityDescriptor) Schema(columns []string) coretypes.Schema {
	schema := make(coretypes.Schema, len(columns))
	for i, c := range columns {
		tag := coretypes.Text
		if a, ok := e.Attributes[strings.ToLower(c)]; ok {
			tag = a.Tag
		}
		schema[i] = coretypes.ColumnDescriptor{Name: c, Tag: tag, Source: e.LogicalName}
	}
	return schema
}

// snapshot is the immutable payload swapped in on invalidate. Holding a
// pointer to one is how concurrent readers get a consistent, lock-free
// view without blocking writers (copy-on-write, per spec §5).
type snapshot struct {
	entities map[string]EntityDescriptor
}

// Cache is the process-wide, read-through schema cache (spec §3). It is
// invalidated only on explicit request, never implicitly, and is not on
// the hot path of execution once warm.
type Cache struct {
	current atomic.Pointer[snapshot]
	loader  func(entityLogicalName string) (EntityDescriptor, error)
}

// NewCache builds an empty Cache backed by loader, which is consulted the
// first time an entity is requested and not already present.
func NewCache(loader func(entityLogicalName string) (EntityDescriptor, error)) *Cache {
	c := &Cache{loader: loader}
	c.current.Store(&snapshot{entities: map[string]EntityDescriptor{}})
	return c
}

// Entity returns the descriptor for entityLogicalName, loading it through
// the loader and caching the result if it is not already present.
func (c *Cache) Entity(entityLogicalName string) (EntityDescriptor, error) {
	key := strings.ToLower(entityLogicalName)
	snap := c.current.Load()
	if e, ok := snap.entities[key]; ok {
		return e, nil
	}
	e, err := c.loader(entityLogicalName)
	if err != nil {
		return EntityDescriptor{}, err
	}
	c.put(key, e)
	return e, nil
}

// Preload seeds the cache with a descriptor without consulting the loader,
// used by tests and by callers warming the cache at startup.
func (c *Cache) Preload(e EntityDescriptor) {
	c.put(strings.ToLower(e.LogicalName), e)
}

func (c *Cache) put(key string, e EntityDescriptor) {
	for {
		old := c.current.Load()
		next := &snapshot{entities: make(map[string]EntityDescriptor, len(old.entities)+1)}
		for k, v := range old.entities {
			next.entities[k] = v
		}
		next.entities[key] = e
		if c.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// EntityNames returns the logical names of every entity currently
// cached, in no particular order. The cache offers no enumeration
// primitive beyond per-entity lookup (spec §3 "read-through"), so this
// can only ever list entities this process has already touched via
// Entity or Preload — intellisense's FROM-position completions (spec
// §4.I) use it as a best-effort suggestion list, not a live catalog.
func (c *Cache) EntityNames() []string {
	snap := c.current.Load()
	names := make([]string, 0, len(snap.entities))
	for _, e := range snap.entities {
		names = append(names, e.LogicalName)
	}
	return names
}

// Invalidate drops every cached entity descriptor; the next Entity call
// re-consults the loader. This is the cache's only mutation entry point
// besides normal population, matching spec §3's "invalidated on explicit
// request only".
func (c *Cache) Invalidate() {
	c.current.Store(&snapshot{entities: map[string]EntityDescriptor{}})
}

// EstimateSelectivity gives the plan builder a cheap, best-effort fraction
// in [0,1] for how selective an equality predicate on attribute is likely
// to be, consulted the way the teacher's pluggable sql/index lookups feed
// a cost estimate — backed here by option-set cardinality (a low-
// cardinality optionset column is assumed to distribute evenly across its
// values) rather than a real secondary index, since the engine owns no
// local index (spec §1 Non-goals).
func (c *Cache) EstimateSelectivity(entityLogicalName, attribute string) float64 {
	e, err := c.Entity(entityLogicalName)
	if err != nil {
		return 1.0
	}
	if values, ok := e.OptionSets[strings.ToLower(attribute)]; ok && len(values) > 0 {
		return 1.0 / float64(len(values))
	}
	return 1.0
}
