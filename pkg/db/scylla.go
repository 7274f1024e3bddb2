// Package db holds the ScyllaDB session shared by everything that touches the
// persistence store. The session is created once at process start and passed
// into the components that need it; nothing in this module keeps a hidden
// global handle.
package db

import (
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

const Keyspace = "huddle"

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	zap.L().Info("connected to scylla cluster",
		zap.Strings("hosts", hosts),
		zap.String("keyspace", keyspace))
	return &Session{Session: session}, nil
}
