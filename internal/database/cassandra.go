package database

import (
	"fmt"

	"github.com/gocql/gocql"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/config"
)

// CassandraDB wraps the gocql session
type CassandraDB struct {
	Session *gocql.Session
}

// NewCassandraDB creates a session against the configured cluster
func NewCassandraDB(cfg config.CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// Close closes the session
func (c *CassandraDB) Close() {
	c.Session.Close()
}
