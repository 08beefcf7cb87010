package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied defensively at startup; deployments are expected to
// manage migrations themselves, but a fresh database should still work.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_informant_idx
	ON documents ((doc->>'informant'));
`

// PostgresStore is the pgx-backed Store implementation: one JSONB table
// shared across collections (cache, archive, recommendations), keyed by
// (collection, id).
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresStore connects to dsn and ensures the backing schema exists.
func NewPostgresStore(ctx context.Context, dsn string, loc *time.Location) (*PostgresStore, error) {
	if loc == nil {
		loc = time.Local
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrapConnectErr("parse dsn", err)
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, wrapConnectErr("connect", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, wrapConnectErr("ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, wrapOpErr("ensure schema", err)
	}
	return &PostgresStore{pool: pool, loc: loc}, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	id, _ := idOf(doc)
	if id == "" {
		id = NewID()
		doc["UUID"] = id
	}
	normalized := ToUTC(doc)
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", wrapOpErr("marshal", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, b)
	if err != nil {
		return "", wrapOpErr("insert", err)
	}
	return id, nil
}

func (s *PostgresStore) BulkInsert(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := s.Insert(ctx, collection, d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, bool, error) {
	docs, err := s.FindMany(ctx, collection, filter, "", false, 1)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

func (s *PostgresStore) FindMany(ctx context.Context, collection string, filter Filter, sortField string, sortDesc bool, limit int) ([]Document, error) {
	where, args, ok := buildWhere(filter, 2)
	if !ok {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT doc FROM documents WHERE collection = $1 AND (%s)`, where)
	allArgs := append([]any{collection}, args...)
	if sortField != "" {
		dir := "ASC"
		if sortDesc {
			dir = "DESC"
		}
		q += fmt.Sprintf(` ORDER BY doc->>%s %s`, quoteLit(sortField), dir)
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, q, allArgs...)
	if err != nil {
		return nil, wrapOpErr("find", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapOpErr("scan", err)
		}
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, wrapOpErr("unmarshal", err)
		}
		out = append(out, ToLocal(d, s.loc).(Document))
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, collection string, filter Filter, patch Document) (int64, error) {
	docs, err := s.FindMany(ctx, collection, filter, "", false, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, d := range docs {
		id, _ := idOf(d)
		for k, v := range patch {
			d[k] = v
		}
		normalized := ToUTC(d)
		b, err := json.Marshal(normalized)
		if err != nil {
			return n, wrapOpErr("marshal patch", err)
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE documents SET doc = $3 WHERE collection = $1 AND id = $2`,
			collection, id, b); err != nil {
			return n, wrapOpErr("update", err)
		}
		n++
	}
	return n, nil
}

func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	where, args, ok := buildWhere(filter, 2)
	if !ok {
		return 0, nil
	}
	q := fmt.Sprintf(`SELECT count(*) FROM documents WHERE collection = $1 AND (%s)`, where)
	allArgs := append([]any{collection}, args...)
	var n int64
	if err := s.pool.QueryRow(ctx, q, allArgs...).Scan(&n); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, wrapOpErr("count", err)
	}
	return n, nil
}

// Aggregate supports a small pipeline vocabulary sufficient for the
// statistics/recommendation use cases: [{"$match": Filter}, {"$limit": n}].
// It is not a general aggregation engine.
func (s *PostgresStore) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]Document, error) {
	filter := Filter{}
	limit := 0
	for _, stage := range pipeline {
		if m, ok := stage["$match"].(Filter); ok {
			for k, v := range m {
				filter[k] = v
			}
		} else if m, ok := stage["$match"].(map[string]any); ok {
			for k, v := range m {
				filter[k] = v
			}
		}
		if l, ok := stage["$limit"].(int); ok {
			limit = l
		}
	}
	return s.FindMany(ctx, collection, filter, "", false, limit)
}

func (s *PostgresStore) ExportByTimeRange(ctx context.Context, collection, timeField string, from, to time.Time, destPath string) error {
	return exportStream(ctx, destPath, func(yield func(Document) error) error {
		// to is exclusive: a document stamped exactly at to is left out.
		filter := Filter{timeField: map[string]any{"$gte": from.UTC(), "$lte": to.UTC().Add(-time.Nanosecond)}}
		docs, err := s.FindMany(ctx, collection, filter, timeField, false, 0)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := yield(d); err != nil {
				return err
			}
		}
		return nil
	})
}

func idOf(d Document) (string, bool) {
	if v, ok := d["UUID"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := d["id"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func quoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildWhere translates a Filter into a SQL boolean expression over the
// JSONB doc column. Returns ok=false when the filter references a
// malformed top-level id, per the identifier-coercion contract: malformed
// ids yield a zero result set rather than a query error.
func buildWhere(filter Filter, nextParam int) (string, []any, bool) {
	if len(filter) == 0 {
		return "true", nil, true
	}
	var clauses []string
	var args []any
	for k, v := range filter {
		switch k {
		case "id":
			raw, _ := v.(string)
			id, ok := CoerceID(raw)
			if !ok {
				return "", nil, false
			}
			clauses = append(clauses, fmt.Sprintf("id = $%d", nextParam))
			args = append(args, id)
			nextParam++
		case "$or":
			subs, _ := v.([]Filter)
			var orParts []string
			for _, sub := range subs {
				sw, sa, ok := buildWhere(sub, nextParam)
				if !ok {
					continue
				}
				orParts = append(orParts, "("+sw+")")
				args = append(args, sa...)
				nextParam += len(sa)
			}
			if len(orParts) == 0 {
				// An OR clause with no satisfiable branch (e.g. every
				// branch had a malformed id) still matches nothing, but
				// unlike a malformed top-level id it is not itself
				// malformed, so fall through to "false" rather than
				// rejecting the whole filter.
				clauses = append(clauses, "false")
				continue
			}
			clauses = append(clauses, strings.Join(orParts, " OR "))
		default:
			if rng, ok := v.(map[string]any); ok {
				if gte, ok := rng["$gte"]; ok {
					clauses = append(clauses, fmt.Sprintf("(doc->>%s)::timestamptz >= $%d", quoteLit(k), nextParam))
					args = append(args, gte)
					nextParam++
				}
				if lte, ok := rng["$lte"]; ok {
					clauses = append(clauses, fmt.Sprintf("(doc->>%s)::timestamptz <= $%d", quoteLit(k), nextParam))
					args = append(args, lte)
					nextParam++
				}
				continue
			}
			clauses = append(clauses, fmt.Sprintf("doc->>%s = $%d", quoteLit(k), nextParam))
			args = append(args, fmt.Sprintf("%v", v))
			nextParam++
		}
	}
	if len(clauses) == 0 {
		return "true", nil, true
	}
	return strings.Join(clauses, " AND "), args, true
}
