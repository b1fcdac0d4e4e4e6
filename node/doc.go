// Package node implements the node types of a flow.
//
// Every node type has a Definition: a parser that turns the raw params of a
// node into one typed params struct at validation time, and a runner factory.
// Runners resolve their expression-valued fields against the execution
// context, perform their effect through Services and record the output both
// in the VertexResult and in the node context.
package node
