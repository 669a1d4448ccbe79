package utils

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ReadURLList reads one URL per line. Blank lines and lines starting with '#'
// are ignored; lines that do not parse as absolute URLs are skipped with a
// warning.
func ReadURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening URL list: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ValidateURL(line); err != nil {
			log.Warn().Str("op", "utils/functions").Int("line", lineNo).Err(err).Msg("skipping malformed URL")
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading URL list: %w", err)
	}
	return urls, nil
}

func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "s3":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// IndexedFilename names the i-th entry of a URL list, e.g. "3.jpg".
func IndexedFilename(index int, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%d%s", index, ext)
}

// SanitizeFilename strips directory components and unsafe characters so a
// filename always resolves directly inside the output directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	name = unsafeFilenameRegex.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "/" {
		return ""
	}
	return name
}

func TempDir(outputDir string) string {
	return filepath.Join(outputDir, TempDirName)
}

// CleanTemp removes leftover temporary files below outputDir.
func CleanTemp(outputDir string) error {
	tempDir := TempDir(outputDir)
	_, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(tempDir)
}

// FilenameFromURL derives a safe filename from the last path segment of
// rawURL, falling back to fallback when there is none.
func FilenameFromURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	name := SanitizeFilename(path.Base(parsed.Path))
	if name == "" {
		return fallback
	}
	return name
}
