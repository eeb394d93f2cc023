package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Common size constants for convenience
const (
	Byte     int64 = 1
	KiloByte int64 = 1024
	MegaByte int64 = 1024 * KiloByte
	GigaByte int64 = 1024 * MegaByte
	TeraByte int64 = 1024 * GigaByte
)

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// unitMultipliers maps upper-cased unit suffixes to byte multipliers.
// KB/MB/GB/TB are decimal; the single-letter and IEC forms are binary.
var unitMultipliers = map[string]int64{
	"B":     1,
	"BYTE":  1,
	"BYTES": 1,
	"KB":    1000,
	"MB":    1000 * 1000,
	"GB":    1000 * 1000 * 1000,
	"TB":    1000 * 1000 * 1000 * 1000,
	"K":     KiloByte,
	"KIB":   KiloByte,
	"M":     MegaByte,
	"MIB":   MegaByte,
	"G":     GigaByte,
	"GIB":   GigaByte,
	"T":     TeraByte,
	"TIB":   TeraByte,
}

// ParseDataSize parses sizes like "512", "100KB", "1.5GiB" or "64M" into
// bytes. Used for upload limits in configuration and on the command line.
func ParseDataSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("negative size: %d", val)
		}
		return val, nil
	}

	matches := sizePattern.FindStringSubmatch(sizeStr)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '1GB', '512MB', '64MiB')", sizeStr)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", matches[1])
	}

	multiplier, ok := unitMultipliers[strings.ToUpper(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s (supported: B, KB, MB, GB, TB, K, M, G, T, KiB, MiB, GiB, TiB)", matches[2])
	}

	bytes := value * float64(multiplier)
	if bytes < 0 || bytes > float64(1<<62) {
		return 0, fmt.Errorf("size out of range: %s", sizeStr)
	}

	return int64(bytes), nil
}

// FormatDataSize renders a byte count with binary units, e.g. "1.5 MB".
func FormatDataSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiloByte {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(bytes) / float64(KiloByte)
	idx := 0
	for value >= 1024 && idx < len(units)-1 {
		value /= 1024
		idx++
	}

	switch {
	case value == float64(int64(value)):
		return fmt.Sprintf("%.0f %s", value, units[idx])
	case value*10 == float64(int64(value*10)):
		return fmt.Sprintf("%.1f %s", value, units[idx])
	default:
		return fmt.Sprintf("%.2f %s", value, units[idx])
	}
}

// ParseDataSizeWithDefault parses a size string and returns defaultSize if it
// is empty or invalid.
func ParseDataSizeWithDefault(sizeStr string, defaultSize int64) int64 {
	if sizeStr == "" {
		return defaultSize
	}
	size, err := ParseDataSize(sizeStr)
	if err != nil {
		return defaultSize
	}
	return size
}
