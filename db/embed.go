// Package db embeds the PostgreSQL schema of the order service.
package db

import _ "embed"

// Schema creates the products, orders, order_lines and inventory_items
// tables. Every statement is idempotent, so it runs on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
