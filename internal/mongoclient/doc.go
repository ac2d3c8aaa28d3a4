// Package mongoclient adapts the official MongoDB Go driver to the client
// contract of the sandbox: list collections, count and delete documents,
// insert seed documents, disconnect.
package mongoclient
