// conf/utils.go
package conf

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultConfigPaths returns the search order for config.yaml when no
// explicit path is given: a user config directory first, then a
// system-wide one, matching how a field gateway is usually provisioned
// (an operator's override, falling back to a fleet-wide image default).
func DefaultConfigPaths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "forest-guardian"))
	}
	return append(paths, "/etc/forest-guardian")
}

// GetBasePath expands environment variables in path and ensures the
// resulting directory exists, creating it if necessary.
func GetBasePath(path string) string {
	expanded := os.ExpandEnv(path)
	base := filepath.Clean(expanded)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.MkdirAll(base, 0o755); err != nil {
			fmt.Printf("failed to create directory '%s': %v\n", base, err)
		}
	}
	return base
}

// PrintUserInfo warns when the node binary is run by a non-root user
// that isn't in the audio group, since PortAudio capture will otherwise
// fail with a permissions error that looks unrelated to groups.
func PrintUserInfo() {
	if runtime.GOOS != "linux" {
		return
	}
	currentUser, err := user.Current()
	if err != nil {
		fmt.Printf("failed to get current user: %v\n", err)
		return
	}
	if currentUser.Username == "root" {
		return
	}

	groupIDs, err := currentUser.GroupIds()
	if err != nil {
		log.Printf("failed to get group memberships: %v\n", err)
		return
	}

	var audioMember bool
	for _, gid := range groupIDs {
		group, err := user.LookupGroupId(gid)
		if err != nil {
			continue
		}
		if group.Name == "audio" {
			audioMember = true
		}
	}
	if !audioMember {
		log.Printf("user '%s' is not a member of the audio group; run: sudo usermod -a -G audio %s", currentUser.Username, currentUser.Username)
	}
}

// RunningInContainer reports whether the current process appears to be
// running inside a Docker or Podman container.
func RunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	if containerEnv, exists := os.LookupEnv("container"); exists && containerEnv != "" {
		return true
	}

	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); strings.Contains(line, "docker") || strings.Contains(line, "podman") {
			return true
		}
	}
	return false
}
