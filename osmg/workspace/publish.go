package workspace

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Output names a finished file and where it must end up.
type Output struct {
	Name   string // base name inside the output directory
	Source string // path of the finished file
}

// Publish copies every source next to its destination under a hidden
// temporary name, syncs it, and only then renames all of them into place,
// replacing existing files. If any copy fails nothing is replaced. A failing
// rename after the first one can still leave a mixed set behind. src and dst
// may be different filesystems.
func Publish(src, dst afero.Fs, outputDir string, outputs ...Output) (err error) {
	staged := make([]string, 0, len(outputs))
	defer func() {
		if err == nil {
			return
		}
		for _, p := range staged {
			if p != "" {
				_ = dst.Remove(p)
			}
		}
	}()

	for _, out := range outputs {
		tmp, serr := stage(src, dst, outputDir, out)
		if serr != nil {
			return serr
		}
		staged = append(staged, tmp)
	}

	for i, out := range outputs {
		final := filepath.Join(outputDir, out.Name)
		if rerr := dst.Rename(staged[i], final); rerr != nil {
			return fmt.Errorf("failed to move %s into place: %w", final, rerr)
		}
		staged[i] = ""
	}
	return nil
}

func stage(src, dst afero.Fs, outputDir string, out Output) (tmp string, err error) {
	in, err := src.Open(out.Source)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", out.Source, err)
	}
	defer in.Close()

	f, err := afero.TempFile(dst, outputDir, "."+out.Name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to stage %s in %s: %w", out.Name, outputDir, err)
	}
	defer func() {
		if err != nil {
			_ = dst.Remove(f.Name())
		}
	}()
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if _, err = io.Copy(f, in); err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", out.Source, err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}
