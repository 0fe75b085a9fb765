package gen

import (
	"sync"

	"incentive-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// NewNode builds the id generator for this process; NODE_ID must be unique per replica.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	var nodeID int64 = 1
	if cfg != nil && cfg.NodeID > 0 {
		nodeID = cfg.NodeID
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node_id", nodeID), zap.Error(err))
		return nil, err
	}
	return node, nil
}

var (
	fallbackOnce sync.Once
	fallbackNode *snowflake.Node
)

// NextID returns a string id from node, or from a shared node 1 when node is nil.
func NextID(node *snowflake.Node) string {
	if node == nil {
		fallbackOnce.Do(func() {
			fallbackNode, _ = snowflake.NewNode(1)
		})
		node = fallbackNode
	}
	return node.Generate().String()
}
