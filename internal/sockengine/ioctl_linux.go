package sockengine

import "golang.org/x/sys/unix"

// ioctlReadable reports the bytes queued in the receive buffer.
const ioctlReadable = unix.SIOCINQ
