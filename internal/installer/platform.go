package installer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// osReleasePath is read to detect the Linux distribution.
const osReleasePath = "/etc/os-release"

// Platform names one archive build. Linux builds are published per
// distribution; Distro is empty for macOS.
type Platform struct {
	// Dir is the download directory: "linux" or "osx".
	Dir string
	// OS is the file name prefix: "linux" or "macos".
	OS string
	// Arch is "x86_64", "aarch64" (Linux) or "arm64" (macOS).
	Arch string
	// Distro is the distribution tag, e.g. "ubuntu2204".
	Distro string
}

// Name returns the platform part of the archive file name, e.g.
// "linux-x86_64-ubuntu2204" or "macos-arm64".
func (p Platform) Name() string {
	name := p.OS + "-" + p.Arch
	if p.Distro != "" {
		name += "-" + p.Distro
	}
	return name
}

// ResolvePlatform maps a GOOS/GOARCH pair and a distribution tag onto the
// archive naming scheme. distro is ignored outside Linux.
func ResolvePlatform(goos, goarch, distro string) (Platform, error) {
	switch goos {
	case "linux":
		arch, ok := map[string]string{"amd64": "x86_64", "arm64": "aarch64"}[goarch]
		if !ok {
			return Platform{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
		}
		return Platform{Dir: "linux", OS: "linux", Arch: arch, Distro: distro}, nil
	case "darwin":
		arch, ok := map[string]string{"amd64": "x86_64", "arm64": "arm64"}[goarch]
		if !ok {
			return Platform{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
		}
		return Platform{Dir: "osx", OS: "macos", Arch: arch}, nil
	default:
		return Platform{}, fmt.Errorf("%w: %s/%s; configure a download URL", ErrUnsupportedPlatform, goos, goarch)
	}
}

// DetectDistro reads an os-release file and returns the distribution tag
// used in Linux archive names. It returns "" with no error when the
// distribution has no published build.
func DetectDistro(goarch string, r io.Reader) (string, error) {
	fields, err := parseOSRelease(r)
	if err != nil {
		return "", err
	}
	return distroTag(goarch, fields["ID"], fields["ID_LIKE"], fields["VERSION_ID"]), nil
}

// detectDistroFile is DetectDistro over a path. A missing file yields "".
func detectDistroFile(goarch, path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	distro, err := DetectDistro(goarch, f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return distro, nil
}

// parseOSRelease reads KEY=value lines, unquoting values.
func parseOSRelease(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields, sc.Err()
}

// distroTag maps os-release identifiers to archive distribution tags.
func distroTag(goarch, id, idLike, versionID string) string {
	major, _, _ := strings.Cut(versionID, ".")

	family := id
	switch id {
	case "ubuntu", "debian", "amzn":
	case "rhel", "centos", "rocky", "almalinux", "ol":
		family = "rhel"
	default:
		if strings.Contains(" "+idLike+" ", " rhel ") {
			family = "rhel"
		}
	}

	switch family {
	case "ubuntu":
		switch versionID {
		case "20.04", "22.04", "24.04":
			return "ubuntu" + strings.ReplaceAll(versionID, ".", "")
		}
	case "debian":
		switch major {
		case "11", "12":
			return "debian" + major
		}
	case "amzn":
		switch major {
		case "2", "2023":
			return "amazon" + major
		}
	case "rhel":
		switch major {
		case "8":
			if goarch == "arm64" {
				return "rhel82"
			}
			return "rhel80"
		case "9":
			return "rhel90"
		}
	}
	return ""
}
