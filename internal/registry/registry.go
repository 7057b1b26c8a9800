package registry

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Row es una fila de la tabla de funciones: clave de ruta, descriptor
// JSON y el sello monótono que asigna el store en cada escritura.
type Row struct {
	K       string
	V       string
	Updated int64
}

// Store envuelve la base sqlite del registro. Se abre por operación o
// por ciclo de poll; el handle no se comparte entre goroutines.
type Store struct {
	db    *sql.DB
	table string
}

// Open abre (o crea) la base en path.
func Open(path, table string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "registry open")
	}
	return &Store{db: db, table: table}, nil
}

// Close libera el handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema crea la tabla del contrato si no existe.
func (s *Store) EnsureSchema() error {
	q := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT, updated INTEGER)", s.table)
	if _, err := s.db.Exec(q); err != nil {
		return errors.Wrap(err, "registry schema")
	}
	return nil
}

// Upsert inserta o reemplaza una fila; el sello updated lo pone el
// propio store con strftime, nunca el llamador.
func (s *Store) Upsert(key, value string) error {
	q := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (k, v, updated) VALUES (?, ?, strftime('%%s','now'))", s.table)
	if _, err := s.db.Exec(q, key, value); err != nil {
		return errors.Wrap(err, "registry upsert")
	}
	return nil
}

// ScanAll devuelve la tabla completa (carga inicial).
func (s *Store) ScanAll() ([]Row, error) {
	q := fmt.Sprintf("SELECT k, v, updated FROM %s", s.table)
	return s.scan(q)
}

// ScanSince devuelve las filas con updated > ts (poll incremental).
func (s *Store) ScanSince(ts int64) ([]Row, error) {
	q := fmt.Sprintf("SELECT k, v, updated FROM %s WHERE updated > ?", s.table)
	return s.scan(q, ts)
}

func (s *Store) scan(query string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "registry query")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.K, &r.V, &r.Updated); err != nil {
			return nil, errors.Wrap(err, "registry scan")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
