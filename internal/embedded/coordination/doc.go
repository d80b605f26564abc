// Package coordination is the in-process coordination service: a small
// key/value registry persisted in SQLite and served over HTTP. Brokers
// register themselves here under /brokers/ids/<index>.
//
// Members of a local coordination tier do not replicate. Client talks to
// the first member that answers, so every caller of a tier sees the same
// member as long as it stays up.
package coordination
