// Package netutil provides port allocation for dbsandbox.
// Its central type, PortRegistry, hands out locally free TCP ports starting
// at a preferred base and records every port it hands out, so that two
// sandboxes in the same process never race onto the same freshly probed port.
package netutil
