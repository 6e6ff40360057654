package chainstate

import "github.com/tos-network/tosd/logger"

var log, _ = logger.Get(logger.SubsystemTags.CHST)
