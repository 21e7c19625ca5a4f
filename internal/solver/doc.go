// Package solver executes SMT-LIB v2 scripts over propositional logic.
//
// Terms are bit-blasted into a github.com/go-air/gini/logic circuit and each
// check-sat runs a fresh gini solver on the current assertion stack. Output
// follows the SMT-LIB 2.6 response format, so scripts written for other
// solvers in the Bool fragment produce the same answers.
package solver
