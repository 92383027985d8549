package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/open-apime/relay/internal/config"
	"github.com/open-apime/relay/internal/storage/sqlite"
)

// executor abstrai o banco alvo; sqlite e postgres diferem só no placeholder
// e no tipo da coluna applied_at.
type executor interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Applied(ctx context.Context, version string) (bool, error)
	Record(ctx context.Context, version string) error
	Forget(ctx context.Context, version string) error
	Close()
}

func main() {
	dir := flag.String("dir", "", "Diretório de migrations (padrão: db/migrations/<driver>)")
	down := flag.Bool("down", false, "Reverte a última migration aplicada")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	driver := cfg.Storage.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if *dir == "" {
		*dir = filepath.Join("db", "migrations", driver)
	}

	var (
		ex  executor
		err error
	)
	switch driver {
	case "sqlite":
		ex, err = openSQLite(ctx, cfg.Storage.DataDir)
	case "postgres":
		ex, err = openPostgres(ctx, cfg.DB.DSN())
	default:
		log.Fatalf("migrate: driver desconhecido: %s", driver)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer ex.Close()

	if *down {
		err = rollback(ctx, ex, *dir)
	} else {
		err = apply(ctx, ex, *dir)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrate: concluído com sucesso.")
}

func apply(ctx context.Context, ex executor, dir string) error {
	files, err := listSQLFiles(dir, ".up.sql")
	if err != nil {
		return fmt.Errorf("listar migrations: %w", err)
	}
	if len(files) == 0 {
		log.Printf("migrate: nenhum arquivo .up.sql encontrado em %s", dir)
		return nil
	}

	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), ".up.sql")
		applied, err := ex.Applied(ctx, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		log.Printf("migrate: aplicando %s ...", version)
		if err := runFile(ctx, ex, file); err != nil {
			return fmt.Errorf("executar %s: %w", version, err)
		}
		if err := ex.Record(ctx, version); err != nil {
			return fmt.Errorf("registrar %s: %w", version, err)
		}
	}
	return nil
}

func rollback(ctx context.Context, ex executor, dir string) error {
	files, err := listSQLFiles(dir, ".down.sql")
	if err != nil {
		return fmt.Errorf("listar migrations: %w", err)
	}

	for i := len(files) - 1; i >= 0; i-- {
		version := strings.TrimSuffix(filepath.Base(files[i]), ".down.sql")
		applied, err := ex.Applied(ctx, version)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}

		log.Printf("migrate: revertendo %s ...", version)
		if err := runFile(ctx, ex, files[i]); err != nil {
			return fmt.Errorf("reverter %s: %w", version, err)
		}
		return ex.Forget(ctx, version)
	}
	log.Println("migrate: nada para reverter")
	return nil
}

func runFile(ctx context.Context, ex executor, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(content), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := ex.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func listSQLFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

type sqliteExecutor struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, dataDir string) (*sqliteExecutor, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("criar diretório: %w", err)
	}
	dbPath := filepath.Join(dataDir, sqlite.FileName)
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("abrir SQLite: %w", err)
	}
	log.Printf("migrate: usando SQLite em %s", dbPath)

	ex := &sqliteExecutor{db: db}
	err = ex.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparar schema_migrations: %w", err)
	}
	return ex, nil
}

func (s *sqliteExecutor) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

func (s *sqliteExecutor) Applied(ctx context.Context, version string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("verificar %s: %w", version, err)
	}
	return count > 0, nil
}

func (s *sqliteExecutor) Record(ctx context.Context, version string) error {
	return s.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version)
}

func (s *sqliteExecutor) Forget(ctx context.Context, version string) error {
	return s.Exec(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
}

func (s *sqliteExecutor) Close() { s.db.Close() }

type postgresExecutor struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, dsn string) (*postgresExecutor, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("conectar no banco: %w", err)
	}
	log.Println("migrate: usando PostgreSQL")

	ex := &postgresExecutor{pool: pool}
	err = ex.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("preparar schema_migrations: %w", err)
	}
	return ex, nil
}

func (p *postgresExecutor) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := p.pool.Exec(ctx, stmt, args...)
	return err
}

func (p *postgresExecutor) Applied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("verificar %s: %w", version, err)
	}
	return exists, nil
}

func (p *postgresExecutor) Record(ctx context.Context, version string) error {
	return p.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
}

func (p *postgresExecutor) Forget(ctx context.Context, version string) error {
	return p.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
}

func (p *postgresExecutor) Close() { p.pool.Close() }
