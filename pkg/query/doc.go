// Package query implements the stage-based query representation (MBQL).
//
// A Query is an immutable value: a database, a metadata Provider and an
// ordered pipeline of stages. Each stage owns positional lists of joins,
// custom expressions, filters, aggregations, breakouts and order-bys.
// Stage 0 reads a table or saved card; stage N reads the columns returned
// by stage N-1.
//
// Every builder returns a new *Query and leaves its argument untouched;
// unchanged stages are shared between revisions. Clause identity is
// positional: after an edit, re-enumerate columns and clauses instead of
// holding on to handles from an older revision.
//
// Stage indexes may be given as -1 to address the last stage.
package query
