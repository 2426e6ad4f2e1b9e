// Package partition reads the whole graph on the manager and cuts it into
// one fragment per worker.
//
// Nodes are assigned by a Strategy. Grid and Quantile use coordinates so
// that neighbouring nodes tend to land on the same worker; Hash ignores
// geography. Split then tags every edge whose target lives elsewhere with
// the target's owner, which is all a worker needs to report foreign nodes.
package partition
