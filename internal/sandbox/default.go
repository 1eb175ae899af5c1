package sandbox

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
)

// DockerValidator is the default Validator: it snapshots dockerfile_dir
// into a scratch build context (using go-shutil, the same copy-tree
// helper golang-dep's project_manager.go uses to materialize a revision
// onto disk without disturbing the original), writes the descriptor as
// that context's Dockerfile, then builds and runs an image with the
// Docker CLI. The actual container engine is left to an external `docker`
// binary on PATH rather than reimplemented here.
type DockerValidator struct {
	// ImageTag names the image DockerValidator builds and removes on each
	// call. Defaults to "envinfer-candidate" if empty.
	ImageTag string
}

func (d DockerValidator) Validate(ctx context.Context, descriptor string, settings Settings) (Result, error) {
	tag := d.ImageTag
	if tag == "" {
		tag = "envinfer-candidate"
	}

	scratch, err := ioutil.TempDir("", "envinfer-build-")
	if err != nil {
		return Result{}, errors.Wrap(err, "creating scratch build context")
	}
	defer os.RemoveAll(scratch)

	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
		Ignore: func(src string, contents []os.FileInfo) (ignore []string) {
			for _, fi := range contents {
				if fi.IsDir() && fi.Name() == ".git" {
					ignore = append(ignore, fi.Name())
				}
			}
			return
		},
	}
	contextDir := filepath.Join(scratch, "ctx")
	if err := shutil.CopyTree(settings.DockerfileDir, contextDir, cfg); err != nil {
		return Result{}, errors.Wrapf(err, "snapshotting %s", settings.DockerfileDir)
	}

	if err := ioutil.WriteFile(filepath.Join(contextDir, "Dockerfile"), []byte(descriptor), 0o644); err != nil {
		return Result{}, errors.Wrap(err, "writing candidate Dockerfile")
	}

	var buildLog bytes.Buffer
	build := exec.CommandContext(ctx, "docker", "build", "-t", tag, contextDir)
	build.Stdout, build.Stderr = &buildLog, &buildLog
	if err := build.Run(); err != nil {
		return Result{ExitCode: exitCodeOf(err), Log: buildLog.String()}, nil
	}
	defer exec.Command("docker", "rmi", "-f", tag).Run() //nolint:errcheck

	args := append([]string{"run", "--rm", tag}, settings.Cmd...)
	args = append(args, settings.ExtraCmd...)
	var runLog bytes.Buffer
	run := exec.CommandContext(ctx, "docker", args...)
	run.Stdout, run.Stderr = &runLog, &runLog
	err = run.Run()

	combined := buildLog.String() + runLog.String()
	return Result{ExitCode: exitCodeOf(err), Log: combined}, nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
