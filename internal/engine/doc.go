// Package engine runs solver jobs through the bridge. The solve itself runs on
// a pool worker; settlement, output stream closure and the scheduling of the
// final store write all happen on the loop goroutine.
package engine
