// Package wire defines the gRPC surface between the executer and the
// workers, and between clients and the executer.
//
// Messages are plain Go structs encoded with msgpack; the codec registers
// itself with grpc under the "msgpack" content-subtype and every client in
// this package selects it on each call. Service descriptors are written by
// hand in the shape protoc-gen-go-grpc produces.
//
// # Rounds
//
// The Worker.UpdateSearch stream carries one round of the distributed
// search. The executer sends one SearchRequest holding a SearchDescriptor,
// then any number holding a DomesticNode, and closes its side. The worker
// answers with any number of SearchReply.Foreign messages followed by at
// most one Watermark or Success, then ends the stream.
package wire
