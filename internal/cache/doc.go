// Package cache implements the durable snapshot cache for remote content.
//
// The cache root holds two namespaces, each a sibling directory:
//
//	<Dir>/pages/<id>.json     # PageSnapshot: page metadata + ordered blocks
//	<Dir>/pages/_index.json   # id -> PageEntry (lastModified, cachedAt, size)
//	<Dir>/blocks/<id>.json    # ordered child blocks of one block
//	<Dir>/blocks/_index.json  # id -> BlocksEntry (cachedAt, size, parentId)
//
// Snapshots are written with temp file + rename before the index is touched,
// so an interrupted write leaves at worst the previous snapshot behind an
// index entry that is still gated by TTL and lastModified. Read faults of any
// kind degrade to a miss. Maintenance (expiry sweep, clear, cascade delete,
// batch warming) lives beside the read path and never blocks it.
package cache
