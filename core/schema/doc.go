/*
Package schema defines declarative entity schemas and catalogs.

A module file groups entities. Each entity has an ordered field list with
a type, flags and per-field constraints:

	module: fx
	entities:
	  rate:
	    display: base
	    fields:
	      base:   { type: string, required: true, pattern: "^[A-Z]{3}$", unique_group: pair }
	      quote:  { type: string, required: true, unique_group: pair }
	      date:   { type: date, required: true, unique_group: pair }
	      value:  money
	      status: { type: enum, values: [draft, final], default: draft }
	      parent: { type: ref, to: rate, on_delete: set_null }
	      tags:   { type: array, elem: ref, to: core.tag }

# Field Types

  - string, text: text values
  - int:          integer (JSON numbers without a fraction)
  - float:        floating-point number
  - money:        decimal amount; numbers or numeric strings
  - bool:         JSON boolean
  - date:         YYYY-MM-DD
  - datetime:     RFC3339 timestamp
  - json:         any JSON value
  - enum:         one of values, or a catalog code
  - ref:          id of a record of the target entity
  - array:        list of elem values

Each field type resolves to one coercion, parsing and ordering implementation
when the entity is compiled. Values are never re-dispatched by type name.

# Catalogs

Catalog files list codes for enum-like fields:

	name: currencies
	items:
	  - { code: USD, name: US Dollar, order: 1 }
	  - { code: EUR, name: Euro, order: 2 }

Cross-entity checks (ref targets, catalogs, on_delete policies) are performed
by the registry when a set of modules is assembled into a snapshot.
*/
package schema
