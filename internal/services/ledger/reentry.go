package ledger

import (
	"bytes"
	"runtime"
	"strconv"
)

// reentrant reports whether the caller is running inside this ledger's
// commit hooks. A mutation from there would wait on its own delivery.
func (l *Ledger) reentrant() bool {
	id := l.deliverer.Load()

	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine's id out of the first line of its
// stack trace, "goroutine 18 [running]:".
func goroutineID() uint64 {
	var buf [64]byte

	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))

	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}

	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
