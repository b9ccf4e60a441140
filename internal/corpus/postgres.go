package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/postgres"
)

// PostgresSource loads records from a study table inside one read-only
// transaction. It expects:
//
//	CREATE TABLE studies (
//	    position     BIGSERIAL,
//	    id           TEXT PRIMARY KEY,
//	    organism     TEXT NOT NULL DEFAULT '',
//	    project_type TEXT NOT NULL DEFAULT '',
//	    title        TEXT,
//	    description  TEXT,
//	    release_date DATE,
//	    doi          TEXT,
//	    url          TEXT,
//	    extra        JSONB
//	);
type PostgresSource struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

func NewPostgresSource(db *postgres.Client, table string) *PostgresSource {
	return &PostgresSource{
		db:     db,
		table:  table,
		logger: slog.Default().With("component", "corpus-postgres"),
	}
}

func (p *PostgresSource) Name() string { return "postgres:" + p.table }

func (p *PostgresSource) Load(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(
		`SELECT id, organism, project_type, title, description, release_date, doi, url, extra
		 FROM %s ORDER BY position, id`,
		pq.QuoteIdentifier(p.table),
	)
	var records []Record
	err := p.db.InReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("querying %s: %w", p.table, err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				p.logger.Warn("skipping unreadable study row", "error", err)
				continue
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                   Record
		title, desc, doi, url sql.NullString
		release               pq.NullTime
		extra                 []byte
	)
	if err := rows.Scan(&rec.ID, &rec.Organism, &rec.ProjectType, &title, &desc, &release, &doi, &url, &extra); err != nil {
		return Record{}, fmt.Errorf("scanning study row: %w", err)
	}
	rec.Title = title.String
	rec.Description = desc.String
	rec.DOI = doi.String
	rec.URL = url.String
	if release.Valid {
		t := release.Time.UTC()
		rec.ReleaseDate = &t
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			return Record{}, fmt.Errorf("decoding extra for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}
