// Package mongod runs a single mongod server as a child process.
//
// A Topology owns one data directory and one port. Purge wipes the data
// directory, Discover checks the binary and prepares the directory, Start
// launches mongod and waits until it accepts TCP connections, and Stop
// terminates it.
package mongod
