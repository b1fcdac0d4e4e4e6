// Package testutil contains builders used across tests to reduce boilerplate
// when constructing execution contexts and flows. They are not intended for
// production usage.
package testutil
