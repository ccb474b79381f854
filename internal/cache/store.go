package cache

import (
	"context"
	"errors"
)

// Store 负责快照文件的读写，磁盘布局遵循：
//
//	<root>/<namespace>/<id>.json
//
// 实现只关心序列化后的字节，新鲜度判断交给 Index。可替换为其他介质
// （嵌入式 KV、对象存储）而无需改动上层。
type Store interface {
	// Get 读取快照并解码到 v。文件缺失返回 ErrNotFound，解析失败返回包装后的错误；
	// 调用方把任何错误都视为未命中。
	Get(ctx context.Context, ns Namespace, id string, v any) error

	// Put 序列化 v 并以临时文件 + rename 写入，返回写入的字节数。
	// 命名空间目录不存在时会自动创建。
	Put(ctx context.Context, ns Namespace, id string, v any) (int64, error)

	// Delete 删除快照文件；文件本就不存在时视为成功。
	Delete(ctx context.Context, ns Namespace, id string) error

	// Exists 判断快照文件是否存在且可读。
	Exists(ctx context.Context, ns Namespace, id string) bool

	// List 返回命名空间下所有快照的 ID（不含索引文件）。
	List(ctx context.Context, ns Namespace) ([]string, error)
}

var (
	// ErrNotFound 表示快照不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidID 表示内容 ID 无法映射为安全的文件名。
	ErrInvalidID = errors.New("invalid content identifier")
	// ErrIndexWrite 标记快照已写入但索引更新失败。
	ErrIndexWrite = errors.New("cache index write failed")
)
