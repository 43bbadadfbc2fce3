package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Server, worker and CLI processes must use distinct node IDs.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered, so sorting by ID approximates creation order.
func New() int64 {
	return node.Generate().Int64()
}

// Parse reads an ID from its decimal string form (path params, CLI args).
func Parse(s string) (int64, error) {
	sf, err := snowflake.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if sf.Int64() <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return sf.Int64(), nil
}
