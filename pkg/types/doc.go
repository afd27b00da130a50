// Package types provides the data model shared by the session correlation
// packages: header lists, resource and origin classifications, tracked
// requests and the events a session emits.
package types
