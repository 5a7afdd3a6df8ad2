// Package reducers holds the built-in reducers selectable by name from the
// command line and run configuration.
//
// Each reducer is registered as a Definition, which erases its state type so
// callers can open, observe and fold it without knowing S. States cross that
// boundary as JSON.
package reducers
