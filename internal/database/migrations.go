package database

import "embed"

// MigrationsFS - встроенные SQL-миграции схемы историй.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsPath - каталог миграций внутри MigrationsFS.
const MigrationsPath = "migrations"
