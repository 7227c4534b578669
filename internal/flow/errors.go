package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrCallEnded indicates the call hung up while a verb was waiting
	// on a suspension point.
	ErrCallEnded = errors.New("call ended")

	// ErrNoScript indicates a continuation fetch produced an empty
	// action chain.
	ErrNoScript = errors.New("script contains no actions")

	// ErrUnknownVerb indicates a script named a verb the engine has no
	// handler for.
	ErrUnknownVerb = errors.New("unknown verb")
)

// ScriptError indicates a script the engine cannot execute: an unknown
// verb or a malformed continuation document. The engine maps it to call
// termination.
type ScriptError struct {
	Verb  string
	Cause error
}

func (e *ScriptError) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("script error: verb %q: %v", e.Verb, e.Cause)
	}
	return fmt.Sprintf("script error: %v", e.Cause)
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// FetchError indicates a continuation script could not be retrieved.
// The flow aborts and the call terminates.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch script %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
