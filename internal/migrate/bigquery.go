package migrate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

var migrationFile = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ReadMigrations reads NNNN_name.sql files from dir in version order,
// substituting the {{PROJECT_ID}} and {{DATASET_ID}} placeholders.
// The checksum covers the file before substitution.
func ReadMigrations(dir, projectID, datasetID string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: reading directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationFile.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Debug().Str("file", file.Name()).Msg("skipping file with invalid format")
			continue
		}
		version, _ := strconv.Atoi(matches[1])

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// BigQuery applies migrations to the export dataset and records them in a
// schema_migrations table.
type BigQuery struct {
	Client    *bigquery.Client
	ProjectID string
	DatasetID string
	AppliedBy string
	Log       zerolog.Logger
}

// Up applies every migration in dir that is not yet recorded and returns how
// many ran.
func (b *BigQuery) Up(ctx context.Context, dir string) (int, error) {
	if err := b.run(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`, b.ProjectID, b.DatasetID), nil); err != nil {
		return 0, fmt.Errorf("Up: ensure schema_migrations: %w", err)
	}

	migrations, err := ReadMigrations(dir, b.ProjectID, b.DatasetID, b.Log)
	if err != nil {
		return 0, fmt.Errorf("Up: %w", err)
	}

	applied, err := b.applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("Up: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if prev, ok := applied[m.Version]; ok {
			if prev.Checksum != "" && prev.Checksum != m.Checksum {
				b.Log.Warn().Int("version", m.Version).Str("name", m.Name).Msg("applied migration has changed since it ran")
			}
			b.Log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("already applied")
			continue
		}

		b.Log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := b.run(ctx, m.SQL, nil); err != nil {
			return count, fmt.Errorf("Up: %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := b.run(ctx, fmt.Sprintf(`
			INSERT INTO `+"`%s.%s.schema_migrations`"+`
			(version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`, b.ProjectID, b.DatasetID),
			[]bigquery.QueryParameter{
				{Name: "version", Value: m.Version},
				{Name: "name", Value: m.Name},
				{Name: "checksum", Value: m.Checksum},
				{Name: "applied_by", Value: b.AppliedBy},
			}); err != nil {
			return count, fmt.Errorf("Up: record %04d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

func (b *BigQuery) applied(ctx context.Context) (map[int]AppliedMigration, error) {
	query := b.Client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC`, b.ProjectID, b.DatasetID))
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	applied := make(map[int]AppliedMigration)
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied[int(row.Version)] = AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		}
	}
	return applied, nil
}

func (b *BigQuery) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := b.Client.Query(sql)
	query.Parameters = params
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
