// Package search implements the worker side of the distributed shortest
// path search: the per-query Processor, the bounded relaxation Pool and the
// gRPC Service the executer talks to.
//
// # Rounds
//
// Each UpdateSearch call is one round. The service acquires the query's
// processor from its lease registry (creating it on first contact), merges
// the nodes the executer forwards, and hands the processor to the Pool for
// one Relax pass. The pass settles frontier nodes in distance order until
// the next one would exceed the bound supplied by the executer, reporting
// every edge that leaves the partition as a foreign node. The bound shrinks
// as foreign nodes are reported, so the worker never settles a node that a
// detour through another partition could still beat.
//
// A round ends in one of three ways:
//
//	Success    the final node was settled; the processor stays for backtracking
//	Watermark  the smallest remaining frontier distance exceeds the bound
//	(nothing)  the frontier ran dry
//
// # Parents
//
// Every node reached records how: as the path root, from a local node, or
// from a node owned by another worker. Backtrack replays these pointers
// until it reaches the root or leaves the partition.
package search
