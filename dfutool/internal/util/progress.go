// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"io"
	"os"
	"strconv"

	"golang.org/x/term"
)

var pbuf = make([]byte, 80)

const (
	ptodo = "                         ] "
	pdone = " [========================="
)

func progress(w io.Writer, pre string, cur, max, scale int, post string) {
	if max <= 0 {
		return
	}
	cur = min(max, cur)
	pbuf = pbuf[:0]
	pbuf = append(pbuf, '\r')
	pbuf = append(pbuf, pre...)
	done := 25 * cur / max
	pbuf = append(pbuf, pdone[:2+done]...)
	pbuf = append(pbuf, ptodo[done:]...)
	pbuf = strconv.AppendInt(pbuf, int64(cur/scale), 10)
	pbuf = append(pbuf, ' ')
	pbuf = append(pbuf, post...)
	if cur == max {
		pbuf = append(pbuf, '\n')
	}
	w.Write(pbuf)
}

// Progress draws the progress bar on the standard error.
func Progress(pre string, cur, max, scale int, post string) {
	progress(os.Stderr, pre, cur, max, scale, post)
}

// Bar returns a function that draws the progress of consecutive operations
// on the standard error. Every operation starts with done == 0 and uses the
// next label. Bar returns nil if there are no labels, quiet is set or the
// standard error is not a terminal.
func Bar(quiet bool, labels ...string) func(done, total int) {
	if len(labels) == 0 || quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return newBar(os.Stderr, labels)
}

func newBar(w io.Writer, labels []string) func(done, total int) {
	i := -1
	return func(done, total int) {
		if done == 0 && i+1 < len(labels) {
			i++
		}
		label := ""
		if i >= 0 {
			label = labels[i]
		}
		progress(w, label, done, total, 1024, "KiB")
	}
}
