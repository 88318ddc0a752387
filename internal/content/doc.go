// Package content stores canonical copies of file content under its digest.
//
// Blobs live in the objects directory of a cabinet:
//
//	objects/<algo>/<hhh>/<hhh>/<hex>   canonical, read-only
//	objects/tmp/                       pending writes
//
// Every blob is written to a pending file, synced, re-hashed from disk and
// compared with the expected digest before it is renamed into place, so a
// half-written or corrupt blob never becomes canonical. Checkout applies the
// same discipline to its destination: the output appears only after its
// digest has been verified.
package content
