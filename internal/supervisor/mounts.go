package supervisor

import (
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// mountSpec is one virtual filesystem mounted at boot.
type mountSpec struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string
}

var bootMounts = []mountSpec{
	{"proc", "/proc", "proc", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, ""},
	{"sysfs", "/sys", "sysfs", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, ""},
	{"devtmpfs", "/dev", "devtmpfs", unix.MS_NOSUID, "mode=0755"},
	{"devpts", "/dev/pts", "devpts", unix.MS_NOEXEC | unix.MS_NOSUID, "gid=5,mode=620"},
	{"tmpfs", "/run", "tmpfs", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, "mode=0755"},
	{"tmpfs", "/tmp", "tmpfs", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, "mode=1777"},
}

// mountFilesystems mounts the standard virtual filesystems. Failures are
// logged and skipped; a system missing /sys still deserves an init.
func (s *Supervisor) mountFilesystems() {
	s.log.Info("mounting filesystems")
	for _, m := range bootMounts {
		os.MkdirAll(m.target, 0o755)
		if err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.data); err != nil {
			s.log.Warn("mount failed",
				zap.String("target", m.target), zap.Error(err))
		}
	}
}

// deviceSpec is one static character device node under /dev.
type deviceSpec struct {
	path  string
	mode  uint32
	major uint32
	minor uint32
}

var bootDevices = []deviceSpec{
	{"/dev/console", 0o600, 5, 1},
	{"/dev/null", 0o666, 1, 3},
	{"/dev/zero", 0o666, 1, 5},
	{"/dev/random", 0o666, 1, 8},
	{"/dev/urandom", 0o666, 1, 9},
	{"/dev/tty", 0o666, 5, 0},
	{"/dev/tty0", 0o620, 4, 0},
	{"/dev/tty1", 0o620, 4, 1},
	{"/dev/tty2", 0o620, 4, 2},
	{"/dev/tty3", 0o620, 4, 3},
	{"/dev/ttyS0", 0o660, 4, 64},
	{"/dev/fb0", 0o660, 29, 0},
	{"/dev/dri/card0", 0o660, 226, 0},
	{"/dev/dri/renderD128", 0o660, 226, 128},
}

// createDeviceNodes creates the static /dev nodes devtmpfs usually
// provides; on kernels without it the nodes must exist before any TTY
// service starts.
func (s *Supervisor) createDeviceNodes() {
	os.MkdirAll("/dev/dri", 0o755)
	for _, d := range bootDevices {
		dev := unix.Mkdev(d.major, d.minor)
		if err := unix.Mknod(d.path, unix.S_IFCHR|d.mode, int(dev)); err != nil && err != unix.EEXIST {
			s.log.Debug("mknod failed",
				zap.String("path", d.path), zap.Error(err))
		}
	}
}

func setHostname(name string) error {
	return unix.Sethostname([]byte(name))
}
