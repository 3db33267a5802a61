// Package services implements the driving port interfaces.
// Services contain the core engine logic (batching, transforms, identity
// resolution, traceability, versioning, scheduling) and orchestrate calls
// to driven ports.
//
// Services never import adapters; storage, connectors and normalisers are
// reached only through the interfaces in ports/driven.
package services
