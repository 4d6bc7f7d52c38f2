// Package codec provides record codecs used by engines to turn an engine.Record
// into bytes and back. Encoding on write and decoding on read also gives engines
// copy semantics for free: a caller can never alias stored data.
//
// Available codecs:
//   - json: portable, numbers come back as float64 (default)
//   - gob: Go native, keeps concrete number types
//
// Use ByName to pick a codec from configuration. Engines write the codec name
// into their snapshots so data is never decoded with the wrong codec.
package codec
