// Package sentinel defines Error, a string-backed error type that can be
// declared as a const.
//
// clusterenv exposes its error taxonomy (invalid argument, startup failure,
// shutdown failure) as sentinels that callers match with errors.Is. Values
// of type Error cannot be reassigned by importers the way an errors.New
// variable can.
package sentinel
