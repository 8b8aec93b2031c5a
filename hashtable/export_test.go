// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hashtable_test

import (
	"testing"

	"code.hybscloud.com/conc64"
)

func conc64InstallReturnHandler(t *testing.T, called *bool) {
	t.Helper()
	prev := conc64.InstallErrorHandler(func(module, errmsg string, val uintptr) conc64.ErrorAction {
		*called = true
		return conc64.ActionReturn
	})
	t.Cleanup(func() { conc64.InstallErrorHandler(prev) })
}
