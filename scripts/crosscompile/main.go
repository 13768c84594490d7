// crosscompile builds survey-map and its maintenance commands for the
// release platforms into binaries/<version>/<os>/<arch>/.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

type target struct{ goos, goarch string }

var targets = []target{
	{"linux", "amd64"}, {"linux", "arm64"}, {"linux", "arm"}, {"linux", "386"},
	{"darwin", "amd64"}, {"darwin", "arm64"},
	{"windows", "amd64"}, {"windows", "arm64"},
	{"freebsd", "amd64"}, {"openbsd", "amd64"},
}

// commands maps output names to package paths relative to the repo root.
var commands = map[string]string{
	"survey-map":         ".",
	"update-track-index": "./scripts/update-track-index",
	"update-site-images": "./scripts/update-site-images",
}

// supportsDuckDB reports platforms where the DuckDB driver links with cgo.
func supportsDuckDB(goos, goarch string) bool {
	switch goos {
	case "linux", "windows":
		return goarch == "amd64"
	case "darwin":
		return goarch == "amd64" || goarch == "arm64"
	}
	return false
}

func git(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	return strings.TrimSpace(string(out)), err
}

// buildVersion prefers the CI run number and falls back to the commit
// count; a dirty tree gets a "-dirty" suffix.
func buildVersion() (string, error) {
	v := os.Getenv("GITHUB_RUN_NUMBER")
	if v == "" {
		n, err := git("rev-list", "--count", "HEAD")
		if err != nil {
			return "", fmt.Errorf("git rev-list: %w", err)
		}
		v = n
	}
	if status, err := git("status", "--porcelain"); err == nil && status != "" {
		v += "-dirty"
	}
	return "0." + v, nil
}

func build(root, outDir, version string, t target, duckdb bool) error {
	dir := filepath.Join(outDir, t.goos, t.goarch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, pkg := range commands {
		exe := name
		if t.goos == "windows" {
			exe += ".exe"
		}
		args := []string{"build", "-trimpath", "-ldflags", fmt.Sprintf("-s -w -X 'main.CompileVersion=%s'", version)}
		cgo := "CGO_ENABLED=0"
		if duckdb && supportsDuckDB(t.goos, t.goarch) {
			args = append(args, "-tags", "duckdb")
			cgo = "CGO_ENABLED=1"
		}
		args = append(args, "-o", filepath.Join(dir, exe), pkg)

		cmd := exec.Command("go", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(), "GOOS="+t.goos, "GOARCH="+t.goarch, cgo)
		if out, err := cmd.CombinedOutput(); err != nil {
			_ = os.RemoveAll(dir)
			return fmt.Errorf("%s: %v\n%s", name, err, out)
		}
	}
	return nil
}

func main() {
	duckdb := flag.Bool("duckdb", false, "Build with the DuckDB driver where cgo supports it")
	jobs := flag.Int("j", runtime.NumCPU(), "Parallel builds")
	flag.Parse()

	root, err := git("rev-parse", "--show-toplevel")
	if err != nil {
		log.Fatalf("git root: %v", err)
	}
	version, err := buildVersion()
	if err != nil {
		log.Fatalf("version: %v", err)
	}
	outDir := filepath.Join(root, "binaries", version)
	log.Printf("Building version %s ➜ %s", version, outDir)

	work := make(chan target)
	var wg sync.WaitGroup
	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				if err := build(root, outDir, version, t, *duckdb); err != nil {
					log.Printf("✗ %s/%s: %v", t.goos, t.goarch, err)
					continue
				}
				log.Printf("✓ %s/%s", t.goos, t.goarch)
			}
		}()
	}
	for _, t := range targets {
		work <- t
	}
	close(work)
	wg.Wait()

	latest := filepath.Join(root, "binaries", "latest")
	_ = os.Remove(latest)
	if err := os.Symlink(version, latest); err != nil {
		log.Printf("symlink latest: %v", err)
	}
}
