// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"os"
)

// DetectShell finds the login shell to run: $SHELL if it names an
// executable, then /bin/bash, /bin/zsh, /bin/sh.
func DetectShell() (string, error) {
	if shell := os.Getenv("SHELL"); len(shell) != 0 && isExecutable(shell) {
		return shell, nil
	}
	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no shell found: checked $SHELL, /bin/bash, /bin/zsh, /bin/sh")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode()&0111 != 0
}
