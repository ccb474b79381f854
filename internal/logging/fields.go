package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供命名空间/内容 ID/命中状态字段，供缓存读写日志复用。
func CacheFields(namespace, id string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"namespace": namespace,
		"id":        id,
		"cache_hit": cacheHit,
	}
}

// RemoteFields 描述一次远端 API 调用。
func RemoteFields(operation, id string, attempt uint) logrus.Fields {
	return logrus.Fields{
		"operation": operation,
		"id":        id,
		"attempt":   attempt,
	}
}
