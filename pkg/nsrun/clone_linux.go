package nsrun

import "golang.org/x/sys/unix"

const (
	unixCloneNewNS   = unix.CLONE_NEWNS
	unixCloneNewUTS  = unix.CLONE_NEWUTS
	unixCloneNewIPC  = unix.CLONE_NEWIPC
	unixCloneNewPID  = unix.CLONE_NEWPID
	unixCloneNewNet  = unix.CLONE_NEWNET
	unixCloneNewUser = unix.CLONE_NEWUSER
)
