// Package notion talks to the hosted page/database workspace that the blog is
// authored in. It exposes the three remote operations the cache layer needs
// (retrieve page metadata, list block children with a continuation cursor,
// query a database), the wire types those calls return, and the typed property
// decoding used to turn a page into a BlogPost.
//
// Page and Block values retain the raw JSON they were decoded from, so a
// snapshot written to disk and read back re-encodes to the same document the
// remote API produced.
package notion
