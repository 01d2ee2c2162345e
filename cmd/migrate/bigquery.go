package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// bigQueryRunner tracks applied migrations in <project>.<dataset>.schema_migrations.
type bigQueryRunner struct {
	client  *bigquery.Client
	project string
	dataset string
}

func newBigQueryRunner(ctx context.Context, project, dataset string) (*bigQueryRunner, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	return &bigQueryRunner{client: client, project: project, dataset: dataset}, nil
}

func (r *bigQueryRunner) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", r.project, r.dataset)
}

func (r *bigQueryRunner) Ensure(ctx context.Context) error {
	return r.run(ctx, r.client.Query(`
		CREATE TABLE IF NOT EXISTS `+r.table()+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`))
}

func (r *bigQueryRunner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	it, err := r.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + r.table() + `
		ORDER BY version ASC
	`).Read(ctx)
	if err != nil {
		// Table doesn't exist yet
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
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

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the migration and then records it. BigQuery DDL is not
// transactional, so a failed insert leaves the migration applied but
// unrecorded; the DDL files use IF NOT EXISTS to make a rerun safe.
func (r *bigQueryRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := r.run(ctx, r.client.Query(m.SQL)); err != nil {
		return err
	}

	q := r.client.Query(`
		INSERT INTO ` + r.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := r.run(ctx, q); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

func (r *bigQueryRunner) run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
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

func (r *bigQueryRunner) Close() error {
	return r.client.Close()
}
