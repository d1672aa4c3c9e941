package gen

import (
	"fmt"

	"payhuk-core/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(NewNode))

// NewNode returns the id generator for this process. APP_NODE_ID must be
// unique per running replica.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.AppNodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.AppNodeID, err)
	}
	return node, nil
}
