package common

import (
	"os"
	"path/filepath"
	"runtime/debug"

	git "github.com/go-git/go-git/v5"
)

// Version is the release version reported by the CLI.
const Version = "0.3.0"

// GetCommitHash returns the short commit the binary was built from. Binaries
// built outside a VCS checkout fall back to the repository enclosing the
// working directory or the executable, then to "unknown".
func GetCommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, dir := range dirs {
		repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			continue
		}
		if head, err := repo.Head(); err == nil {
			return short(head.Hash().String())
		}
	}
	return "unknown"
}

func short(hash string) string {
	return hash[:min(8, len(hash))]
}
