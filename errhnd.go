// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conc64

import (
	"fmt"
	"os"

	"code.hybscloud.com/atomix"
)

// ErrorAction tells ReportError what to do after the installed
// [ErrorHandler] has been consulted.
type ErrorAction int

const (
	// ActionAbort panics with the reported error. This is the default
	// when no handler is installed.
	ActionAbort ErrorAction = iota
	// ActionExit terminates the process with a non-zero status.
	ActionExit
	// ActionReturn tells ReportError's caller to return its conventional
	// failure sentinel (false, nil, zero) instead of aborting.
	ActionReturn
)

// ErrorHandler is invoked for every programmer error and resource
// exhaustion condition reported by any conc64 package. module is a short
// lowercase identifier (e.g. "hopscotch", "mcas", "buckring"); errmsg is a
// short fixed phrase documented per package (e.g. "duplicate location",
// "ring not empty"); val carries an offending value when one exists.
type ErrorHandler func(module, errmsg string, val uintptr) ErrorAction

var handler atomix.Pointer[ErrorHandler]

// InstallErrorHandler installs h as the process-wide error handler and
// returns the previously installed handler (nil if none was installed).
// Passing nil uninstalls the handler, reverting to the default behaviour
// of printing to stderr and aborting.
func InstallErrorHandler(h ErrorHandler) ErrorHandler {
	var prev *ErrorHandler
	if h == nil {
		prev = handler.SwapAcqRel(nil)
	} else {
		prev = handler.SwapAcqRel(&h)
	}
	if prev == nil {
		return nil
	}
	return *prev
}

// ReportError reports a programmer error or resource-exhaustion condition
// to the installed [ErrorHandler] (or the default handler, which prints to
// stderr) and carries out the chosen [ErrorAction]. Callers that receive
// [ActionReturn] must return their conventional failure sentinel.
//
// "Lost race" and empty/full conditions are never reported here; those are
// resolved locally by the caller (see spec §7).
func ReportError(module, errmsg string, val uintptr) ErrorAction {
	h := handler.LoadAcquire()
	var action ErrorAction
	if h != nil {
		action = (*h)(module, errmsg, val)
	} else {
		fmt.Fprintf(os.Stderr, "conc64: module %q reported error %q (%#x)\n", module, errmsg, val)
		action = ActionAbort
	}
	switch action {
	case ActionAbort:
		panic(fmt.Sprintf("conc64: %s: %s (%#x)", module, errmsg, val))
	case ActionExit:
		os.Exit(1)
	case ActionReturn:
		return ActionReturn
	default:
		panic(fmt.Sprintf("conc64: error handler returned invalid action %d", action))
	}
	return action
}
