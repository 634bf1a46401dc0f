package core

import "database/sql"

// AdapterConfig holds configuration for connecting to a warehouse.
type AdapterConfig struct {
	Type      string
	Path      string
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Schema    string
	Account   string
	Warehouse string
	Role      string
	Options   map[string]string
	Params    map[string]any
}

// Rows wraps sql.Rows to provide a consistent interface.
type Rows struct {
	*sql.Rows
}
