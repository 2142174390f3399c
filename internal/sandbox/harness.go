package sandbox

// The candidate never runs bare: a generated harness loads it, installs the
// resource guards, and maps outcomes onto distinct exit codes the runner can
// classify without parsing prose.
//
// Exit codes:
//   0   - candidate completed
//   1   - uncaught exception (traceback on stderr)
//   113 - sandbox violation (denied filesystem, network, or process access)
const (
	exitViolation = 113

	candidateFile = "candidate.py"
	harnessFile   = "_harness.py"
)

// harnessSource is formatted with two %v booleans: disallow_filesystem and
// disallow_network (Python True/False). The guards cover builtins.open and
// the os-level path functions (filesystem escapes), the socket module
// (network), and every process-spawning entry point (subprocess, os.system,
// exec/spawn/fork), since a spawned process would bypass the in-process
// guards entirely.
const harnessSource = `import builtins
import os
import subprocess
import sys
import traceback

DISALLOW_FS = %v
DISALLOW_NET = %v
ROOT = os.path.realpath(os.getcwd())


class SandboxViolation(Exception):
    pass


def _check_path(path):
    p = os.path.realpath(os.path.join(ROOT, os.fspath(path)))
    if not p.startswith(ROOT + os.sep) and p != ROOT:
        raise SandboxViolation(
            "filesystem access outside the sandbox is denied: " + repr(path))


def _deny_network():
    import socket

    def _blocked(*args, **kwargs):
        raise SandboxViolation("network access is denied")

    socket.socket = _blocked
    socket.create_connection = _blocked
    socket.getaddrinfo = _blocked


def _deny_filesystem():
    _real_open = builtins.open

    def _guarded_open(file, mode="r", *args, **kwargs):
        if not isinstance(file, int):
            _check_path(file)
        return _real_open(file, mode, *args, **kwargs)

    builtins.open = _guarded_open

    def _guard(name, path_args):
        real = getattr(os, name)

        def wrapper(*args, **kwargs):
            for i in path_args:
                if len(args) > i and not isinstance(args[i], int):
                    _check_path(args[i])
            return real(*args, **kwargs)

        setattr(os, name, wrapper)

    for name in ("open", "remove", "unlink", "rmdir", "mkdir", "makedirs",
                 "listdir", "scandir", "truncate", "chmod", "utime"):
        if hasattr(os, name):
            _guard(name, (0,))
    for name in ("rename", "replace", "link", "symlink"):
        if hasattr(os, name):
            _guard(name, (0, 1))


def _deny_processes():
    def _blocked(*args, **kwargs):
        raise SandboxViolation("process execution is denied")

    subprocess.Popen = _blocked
    for name in dir(os):
        if (name.startswith("exec") or name.startswith("spawn")
                or name.startswith("posix_spawn")
                or name in ("fork", "forkpty", "system", "popen")):
            setattr(os, name, _blocked)


def main():
    with open("` + candidateFile + `", "r") as f:
        source = f.read()
    code = compile(source, "` + candidateFile + `", "exec")

    if DISALLOW_NET:
        _deny_network()
    if DISALLOW_FS:
        _deny_filesystem()
    if DISALLOW_FS or DISALLOW_NET:
        _deny_processes()

    try:
        exec(code, {"__name__": "__main__"})
    except SandboxViolation as exc:
        print("sandbox violation: " + str(exc), file=sys.stderr)
        sys.exit(` + "113" + `)
    except SystemExit:
        raise
    except BaseException:
        traceback.print_exc()
        sys.exit(1)


if __name__ == "__main__":
    main()
`
