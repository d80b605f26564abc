// Package worker is the in-process worker service. A worker refuses to start
// unless every broker in its bootstrap list reports SERVING, then answers
// GET / with its identity and the brokers it was given.
package worker
