// Package wire lays out a spec as one relocatable blob:
//
//	header(32) | digest(32) | prefix | sidecar
//
// The prefix is the TLV-encoded object graph with every name and content
// byte replaced by a range into the sidecar. The sidecar holds the bytes
// those ranges point at followed by granule-aligned embedded frames.
package wire
