// Package memory holds in-process implementations of the job store and the
// content archive, used in development and tests.
package memory
