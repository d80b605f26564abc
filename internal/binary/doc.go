// Package binary runs tier instances as child processes. The command line
// and environment are text/template strings rendered per instance with
// TemplateData, so an arbitrary server binary can be told which port, data
// directory and dependency to use.
//
// The port registry hands each instance a bound listener. The process
// launcher closes it immediately before exec so the child can bind the
// same port.
package binary
