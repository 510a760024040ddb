package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/meta"
	"golang.org/x/sync/errgroup"
)

// DefaultIntrospectConcurrency bounds parallel metadata reads.
const DefaultIntrospectConcurrency = 4

// IntrospectOptions controls Introspect.
type IntrospectOptions struct {
	// DatabaseID is written to the snapshot's database record.
	DatabaseID int64
	// Name is the database display name. Defaults to the dialect name.
	Name string
	// Tables restricts introspection to these tables. Empty means all.
	Tables []string
	// Concurrency bounds parallel metadata reads.
	Concurrency int
	Logger      *slog.Logger
}

// Introspect reads the connected database's schema into a snapshot spec.
//
// Table and field ids are assigned sequentially in listing order, so two
// runs against an unchanged schema produce identical snapshots. Foreign
// keys become type/FK fields only when their target is among the
// introspected tables.
func Introspect(ctx context.Context, a Adapter, opts IntrospectOptions) (meta.SnapshotSpec, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tables := opts.Tables
	if len(tables) == 0 {
		listed, err := a.ListTables(ctx)
		if err != nil {
			return meta.SnapshotSpec{}, err
		}
		tables = listed
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultIntrospectConcurrency
	}

	mds := make([]*Metadata, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range tables {
		g.Go(func() error {
			md, err := a.GetTableMetadata(gctx, t)
			if err != nil {
				return fmt.Errorf("introspect %s: %w", t, err)
			}
			logger.Debug("introspected table",
				slog.String("table", md.QualifiedName()),
				slog.Int("columns", len(md.Columns)))
			mds[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return meta.SnapshotSpec{}, err
	}

	d := a.Dialect()
	spec := meta.SnapshotSpec{
		Database: meta.DatabaseSpec{
			ID:       opts.DatabaseID,
			Name:     opts.Name,
			Engine:   d.Name,
			Features: d.Features(),
		},
	}
	if spec.Database.Name == "" {
		spec.Database.Name = d.Name
	}

	// First pass assigns ids, second resolves foreign keys against them.
	fieldIDs := make(map[string]int64)
	var nextField int64 = 1
	for i, md := range mds {
		ts := meta.TableSpec{
			ID:          int64(i + 1),
			Schema:      md.Schema,
			Name:        md.Name,
			DisplayName: meta.Humanize(md.Name),
		}
		for _, col := range md.Columns {
			fs := meta.FieldSpec{
				ID:       nextField,
				Name:     col.Name,
				BaseType: string(meta.ParseBaseType(col.Type)),
			}
			fs.SemanticType = string(semanticFor(col))
			fieldIDs[columnKey(md.Schema, md.Name, col.Name)] = nextField
			nextField++
			ts.Fields = append(ts.Fields, fs)
		}
		spec.Tables = append(spec.Tables, ts)
	}

	for i, md := range mds {
		for _, fk := range md.ForeignKeys {
			refSchema := fk.RefSchema
			if refSchema == "" {
				refSchema = md.Schema
			}
			target, ok := fieldIDs[columnKey(refSchema, fk.RefTable, fk.RefColumn)]
			if !ok {
				logger.Debug("skipping foreign key to unknown table",
					slog.String("table", md.QualifiedName()),
					slog.String("column", fk.Column),
					slog.String("references", refSchema+"."+fk.RefTable))
				continue
			}
			fields := spec.Tables[i].Fields
			for j := range fields {
				if strings.EqualFold(fields[j].Name, fk.Column) {
					fields[j].SemanticType = string(meta.SemanticFK)
					fields[j].FKTarget = target
				}
			}
		}
	}

	return spec, nil
}

func columnKey(schema, table, column string) string {
	return strings.ToLower(schema + "." + table + "." + column)
}

// semanticFor infers a semantic type from key membership and column name.
func semanticFor(col Column) meta.SemanticType {
	if col.PrimaryKey {
		return meta.SemanticPK
	}
	switch strings.ToLower(col.Name) {
	case "lat", "latitude":
		return meta.SemanticLatitude
	case "lon", "lng", "long", "longitude":
		return meta.SemanticLongitude
	}
	return meta.SemanticNone
}
