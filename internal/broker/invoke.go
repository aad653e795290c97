package broker

// InvokeStream represents a single in-flight remote invocation.
// Invocations are not fanned out: exactly one requester owns the stream.
type InvokeStream struct {
	RequesterLink string
	RequesterRid  uint32

	Downstream   *DownstreamNode
	ResponderRid uint32
}

// NewInvokeStream creates an invocation stream for a single requester.
func NewInvokeStream(requesterLink string, requesterRid uint32, ds *DownstreamNode, responderRid uint32) *InvokeStream {
	return &InvokeStream{
		RequesterLink: requesterLink,
		RequesterRid:  requesterRid,
		Downstream:    ds,
		ResponderRid:  responderRid,
	}
}
