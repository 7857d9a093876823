// Package vm holds the runtime shared by both execution backends.
//
// It defines the kernel value model and its wire copy, the timeline cursor
// (now_mu, delay_mu, sequential and parallel regions), the exception
// registry with its single-inheritance hierarchy, and the try automaton
// that drives handler selection, finally blocks and re-raise. The host
// backend is a tree-walking interpreter over compiler ASTs; the device
// backend in pkg/bytecode runs on the same services so both produce
// comparable artifacts.
package vm
