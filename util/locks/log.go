package locks

import (
	"github.com/tos-network/tosd/logger"
	"github.com/tos-network/tosd/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.UTIL)
var spawn = panics.GoroutineWrapperFunc(log)
