// Package litestore is an embedded document engine backed by SQLite. It
// stands in for mongod where downloading a server is not possible, such as
// in CI sandboxes without network access.
//
// A Topology opens a SQLite database in its data directory, holds the port
// with a TCP listener so that port probing sees it as taken, and registers
// itself under host:port. The Connector resolves a mongodb:// connection
// string to the registered store. Collections are rows in a catalog table;
// documents are JSON rows.
package litestore
