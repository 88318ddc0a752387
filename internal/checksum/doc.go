// Package checksum computes the content digests that identify files in a
// cabinet.
//
// A digest is the only true identity of stored content. Two byte streams
// with identical content always produce the same digest; the engine streams
// input through a fixed-size buffer so memory use does not depend on file
// size.
//
// Digests are rendered as "<algorithm>:<lowercase hex>", for example:
//
//	sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
//
// The algorithm is chosen once when a repository is created and recorded in
// its metadata. SHA-256 is the default; BLAKE3 is available for large
// archives where hashing throughput dominates.
package checksum
