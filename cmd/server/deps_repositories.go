package main

import (
	chrepo "github.com/stagewatch/stagewatch/internal/repository/clickhouse"
	pgrepo "github.com/stagewatch/stagewatch/internal/repository/postgres"
)

// Repositories holds all repository instances
type Repositories struct {
	// PostgreSQL repositories (control plane)
	Runs  *pgrepo.RunRepository
	Audit *pgrepo.AuditRepository

	// ClickHouse repositories (outcome warehouse)
	Outcomes  *chrepo.OutcomeRepository
	Snapshots *chrepo.SnapshotRepository
}

// initRepositories initializes all repositories
func initRepositories(dbs *Databases) *Repositories {
	return &Repositories{
		Runs:      pgrepo.NewRunRepository(dbs.Postgres),
		Audit:     pgrepo.NewAuditRepository(dbs.PostgresSQLX),
		Outcomes:  chrepo.NewOutcomeRepository(dbs.ClickHouse),
		Snapshots: chrepo.NewSnapshotRepository(dbs.ClickHouse),
	}
}
