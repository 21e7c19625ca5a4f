// Package backend defines the common interface that all solver backends must
// implement, along with the domain types exchanged between the engine and
// backend implementations.
package backend
