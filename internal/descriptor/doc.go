// Package descriptor parses and builds connection descriptors: comma
// separated host:port lists such as "127.0.0.1:2181,127.0.0.1:2182".
//
// Descriptors handed in by callers are validated but never rewritten, so a
// caller reading one back gets the exact string it supplied.
package descriptor
