// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build linux

package realize

import (
	"bytes"
	"context"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
	"zombiezen.com/go/log"

	"github.com/forgebuild/forge/internal/osutil"
)

// runSandboxed implements the "container-backed" backend on Linux: a
// from-scratch mount namespace built on bind mounts and chroot,
// trimmed to this system's single-output model (no NAR export, no
// multi-output rewrite, no build-user pool — the builder runs as the
// invoking user).
func runSandboxed(ctx context.Context, inv *invocation) error {
	chrootDir, err := inv.store.NewScratchDir()
	if err != nil {
		return &SandboxError{Reason: "create sandbox root", Err: err}
	}
	defer func() {
		if err := osutil.UnmountAndRemoveAll(chrootDir); err != nil {
			log.Warnf(ctx, "forge: clean up sandbox %s: %v", chrootDir, err)
		}
	}()

	storeDir := string(inv.store.Directory())
	if err := setupSandboxFilesystem(ctx, chrootDir, storeDir, inv); err != nil {
		return &SandboxError{Reason: "set up sandbox filesystem", Err: err}
	}

	c := exec.CommandContext(ctx, inv.file.Builder, inv.file.Args...)
	c.Env = inv.buildEnv("/build")
	c.Dir = "/build"

	var stderrTail bytes.Buffer
	if inv.cfg.Verbose {
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	} else {
		c.Stdout = &stderrTail
		c.Stderr = &stderrTail
	}

	c.SysProcAttr = &syscall.SysProcAttr{
		Chroot:     chrootDir,
		Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC | unix.CLONE_NEWPID,
	}
	if !inv.network {
		c.SysProcAttr.Cloneflags |= unix.CLONE_NEWNET
	}

	log.Debugf(ctx, "forge: running builder %s %v for %s (sandboxed, network=%t)", inv.file.Builder, inv.file.Args, inv.drvPath, inv.network)
	err = c.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return &SandboxError{Reason: "start builder", Err: err}
	}
	return &BuildFailedError{
		DrvPath:  string(inv.drvPath),
		ExitCode: exitErr.ExitCode(),
		Stderr:   stderrTail.String(),
	}
}

// setupSandboxFilesystem populates dir with the minimal root a build
// needs: a bind-mounted (read-only) view of the store, the builder's
// writable output and work directories bind-mounted at the paths the
// derivation's env already points $out and TMPDIR at, and the usual
// /dev, /proc, /etc skeleton.
func setupSandboxFilesystem(ctx context.Context, dir string, storeDir string, inv *invocation) error {
	if err := osutil.MkdirPerm(filepath.Join(dir, "tmp"), 0o777|os.ModeSticky); err != nil {
		return err
	}

	buildDir := filepath.Join(dir, "build")
	if _, err := bindMount(ctx, inv.workDir, buildDir); err != nil {
		return err
	}

	// The "base image" is a filesystem root whose system directories are
	// bind-mounted read-only into the chroot, so builders like /bin/sh
	// resolve. Defaults to the host's own root.
	imageRoot := inv.cfg.ContainerImage
	if imageRoot == "" {
		imageRoot = "/"
	}
	for _, name := range []string{"bin", "sbin", "usr", "lib", "lib32", "lib64", "libexec", "opt"} {
		src := filepath.Join(imageRoot, name)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		dst := filepath.Join(dir, name)
		mounted, err := bindMount(ctx, src, dst)
		if err != nil {
			return err
		}
		if !mounted {
			continue
		}
		if err := unix.Mount("", dst, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return &os.PathError{Op: "remount read-only", Path: dst, Err: err}
		}
	}

	storeMount := filepath.Join(dir, storeDir)
	if err := os.MkdirAll(filepath.Dir(storeMount), 0o755); err != nil {
		return err
	}
	if _, err := bindMount(ctx, storeDir, storeMount); err != nil {
		return err
	}

	// The build's own output lives inside the store directory, so bind
	// it writable over the not-yet-read-only store mount — the
	// derivation's $out already names this path. This must happen
	// before the read-only remount below: the bind target directory has
	// to be created inside storeMount while it's still writable.
	outMount := filepath.Join(dir, string(inv.outPath))
	if _, err := bindMount(ctx, inv.outDir, outMount); err != nil {
		return err
	}

	if err := unix.Mount("", storeMount, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return &os.PathError{Op: "remount read-only", Path: storeMount, Err: err}
	}

	etcDir := filepath.Join(dir, "etc")
	if err := os.Mkdir(etcDir, 0o755); err != nil {
		return err
	}
	const hostsContent = "127.0.0.1 localhost\n::1 localhost\n"
	if err := osutil.WriteFilePerm(filepath.Join(etcDir, "hosts"), []byte(hostsContent), 0o444); err != nil {
		return err
	}
	if inv.network {
		for _, name := range []string{"resolv.conf", "services"} {
			src := filepath.Join("/etc", name)
			if _, err := os.Lstat(src); err == nil {
				if _, err := bindMount(ctx, src, filepath.Join(etcDir, name)); err != nil {
					return err
				}
			}
		}
		if caFile, err := defaultSystemCertFile(); err == nil {
			dst := filepath.Join(etcDir, "ssl", "certs", "ca-certificates.crt")
			if _, err := bindMount(ctx, caFile, dst); err != nil {
				log.Warnf(ctx, "forge: bind mount CA bundle %s: %v", caFile, err)
			}
		}
	}

	devDir := filepath.Join(dir, "dev")
	if err := osutil.MkdirPerm(devDir, 0o755); err != nil {
		return err
	}
	for _, name := range []string{"null", "zero", "full", "random", "urandom", "tty"} {
		src := filepath.Join("/dev", name)
		if _, err := os.Lstat(src); err == nil {
			if _, err := bindMount(ctx, src, filepath.Join(devDir, name)); err != nil {
				return err
			}
		}
	}

	procDir := filepath.Join(dir, "proc")
	if err := osutil.MkdirPerm(procDir, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("none", procDir, "proc", 0, ""); err != nil {
		return &os.PathError{Op: "mount proc", Path: procDir, Err: err}
	}

	return nil
}

// defaultSystemCertFile locates a CA bundle to bind-mount into a
// network-enabled sandbox, checked in the order a fixed-output
// derivation's HTTPS fetch is likely to look: SSL_CERT_FILE, then the
// usual per-distribution bundle paths.
func defaultSystemCertFile() (string, error) {
	if path := os.Getenv("SSL_CERT_FILE"); path != "" {
		return path, nil
	}
	paths := iter.Seq[string](func(yield func(string) bool) {
		for _, p := range []string{
			"/etc/ssl/certs/ca-certificates.crt", // Debian/Ubuntu/Gentoo
			"/etc/pki/tls/certs/ca-bundle.crt",   // Fedora/RHEL
			"/etc/ssl/ca-bundle.pem",             // OpenSUSE
			"/etc/pki/tls/cacert.pem",            // OpenELEC
			"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem", // CentOS/RHEL 7
			"/etc/ssl/cert.pem", // Alpine
		} {
			if !yield(p) {
				return
			}
		}
	})
	return osutil.FirstPresentFile(paths)
}

// bindMount creates a bind mount of oldname at newname, creating
// newname (as a file or directory, matching oldname's type) if it
// doesn't already exist. Symlinks cannot be bind-mounted, so a
// symlink at oldname is recreated at newname instead; isMount reports
// whether an actual mount was created.
func bindMount(ctx context.Context, oldname, newname string) (isMount bool, err error) {
	info, err := os.Lstat(oldname)
	if err != nil {
		return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
	}
	switch {
	case info.Mode().Type() == os.ModeSymlink:
		target, err := os.Readlink(oldname)
		if err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
		if err := os.MkdirAll(filepath.Dir(newname), 0o777); err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
		log.Debugf(ctx, "forge: ln -s %s %s", target, newname)
		if err := os.Symlink(target, newname); err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
		return false, nil
	case info.IsDir():
		if err := os.MkdirAll(newname, 0o777); err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
	default:
		if err := os.MkdirAll(filepath.Dir(newname), 0o777); err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
		if err := os.WriteFile(newname, nil, 0o666); err != nil {
			return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
		}
	}
	log.Debugf(ctx, "forge: mount --rbind %s %s", oldname, newname)
	if err := unix.Mount(oldname, newname, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return false, &os.LinkError{Op: "bind mount", Old: oldname, New: newname, Err: err}
	}
	return true, nil
}
