package repo

import "github.com/ceyewan/genesis/clog"

// namespacedLogger 返回带命名空间的 logger；未提供时退化为 Discard，避免 nil 指针
func namespacedLogger(logger clog.Logger, namespace string) clog.Logger {
	if logger == nil {
		logger = clog.Discard()
	}
	return logger.WithNamespace(namespace)
}
