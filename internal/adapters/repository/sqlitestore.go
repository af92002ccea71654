package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/okian/villes/internal/domain/model"
)

// SQLiteStore keeps records in a SQLite table with (nom, pays) as primary
// key. Several Enricher processes can share the file: WAL mode and a busy
// timeout serialise their writes and the UPSERT keeps one row per identity.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS villes (
	nom                 TEXT NOT NULL,
	pays                TEXT NOT NULL,
	image               TEXT,
	population          INTEGER NOT NULL,
	superficie          REAL NOT NULL,
	coordonnees         TEXT NOT NULL,
	fuseau_horaire      TEXT NOT NULL,
	couleurs_dominantes TEXT NOT NULL,
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (nom, pays)
);
`

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN appends the connection pragmas to dsn.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// NewSQLiteStore opens dsn in WAL mode and creates the table.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite open: %w", ErrPersistence, err)
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite migrate: %w", ErrPersistence, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec model.EnrichedCity) error {
	colors, err := json.Marshal(rec.Colors)
	if err != nil {
		return fmt.Errorf("%w: marshal colors: %w", ErrPersistence, err)
	}
	var image sql.NullString
	if rec.Image != nil {
		image = sql.NullString{String: *rec.Image, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO villes (nom, pays, image, population, superficie, coordonnees, fuseau_horaire, couleurs_dominantes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(nom, pays) DO UPDATE SET
			image = excluded.image,
			population = excluded.population,
			superficie = excluded.superficie,
			coordonnees = excluded.coordonnees,
			fuseau_horaire = excluded.fuseau_horaire,
			couleurs_dominantes = excluded.couleurs_dominantes,
			updated_at = datetime('now')`,
		rec.Name, rec.Country, image, rec.Population, rec.Area, rec.Coordinates, rec.Timezone, string(colors),
	)
	if err != nil {
		return fmt.Errorf("%w: sqlite upsert %s: %w", ErrPersistence, rec.Identity(), err)
	}
	return nil
}

func (s *SQLiteStore) Has(ctx context.Context, id model.Identity) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM villes WHERE nom = ? AND pays = ?`, id.Name, id.Country,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: sqlite lookup %s: %w", ErrPersistence, id, err)
	}
	return true, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM villes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: sqlite count: %w", ErrPersistence, err)
	}
	return n, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.EnrichedCity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nom, pays, image, population, superficie, coordonnees, fuseau_horaire, couleurs_dominantes
		FROM villes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []model.EnrichedCity
	for rows.Next() {
		var (
			rec    model.EnrichedCity
			image  sql.NullString
			colors string
		)
		if err := rows.Scan(&rec.Name, &rec.Country, &image, &rec.Population, &rec.Area,
			&rec.Coordinates, &rec.Timezone, &colors); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan: %w", ErrPersistence, err)
		}
		if image.Valid {
			img := image.String
			rec.Image = &img
		}
		if err := json.Unmarshal([]byte(colors), &rec.Colors); err != nil {
			return nil, fmt.Errorf("%w: sqlite colors of %s: %w", ErrPersistence, rec.Identity(), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite rows: %w", ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
