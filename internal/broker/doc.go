// Package broker holds the broker's core data model: the node tree
// (regular and downstream nodes) and the three stream kinds (list,
// value subscription, invocation) together with the registry that owns
// them.
//
// These types are deliberately kept in one package. The spec's own
// design notes call out the cyclic-reference hazard between streams and
// the links/nodes that reference them (a stream's downstream node holds
// a non-owning lookup back into the stream, the stream holds a pointer
// to its downstream node); keeping node, stream, and registry types
// together lets the registry be the single owner without reaching
// across a package boundary to manage someone else's map.
//
// Message routing, wire encoding, and link-session bookkeeping live in
// sibling packages that import this one.
package broker
