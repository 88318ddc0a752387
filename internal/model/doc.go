// Package model provides the record types shared by the cabinet packages.
//
// This package contains type definitions only. Other internal packages import
// model; model imports nothing internal except checksum, which defines the
// Digest identity type.
//
// Key design constraints:
//   - Digest is the only identity of content; File rows are never mutated
//     except to record the first successful check-in
//   - (DeviceID, Path) is the natural key of an Incarnation
//   - Paths are absolute, cleaned and NFC-normalized (see NormalizePath)
//   - All JSON tags use snake_case
package model
