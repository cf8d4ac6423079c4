// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	saved := GitDirty
	t.Cleanup(func() { GitDirty = saved })

	GitDirty = "false"
	if strings.Contains(Info(), "-dirty") {
		t.Errorf("clean Info() = %q", Info())
	}
	GitDirty = "true"
	if !strings.Contains(Info(), GitCommit+"-dirty") {
		t.Errorf("dirty Info() = %q", Info())
	}
}

func TestFullIncludesInfo(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Info()) || !strings.Contains(full, "Go: ") {
		t.Errorf("Full() = %q", full)
	}
	if Short() != Version {
		t.Errorf("Short() = %q, want %q", Short(), Version)
	}
}
