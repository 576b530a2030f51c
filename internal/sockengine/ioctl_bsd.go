//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package sockengine

import "golang.org/x/sys/unix"

const ioctlReadable = unix.FIONREAD
