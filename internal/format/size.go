package format

import "fmt"

const gnuSuffixes = "KMGTPEZY"

// HumanSize renders a byte count the way `ls -h` does: binary multiples,
// one decimal, single-letter suffix ("1.0G"). Counts under 1024 print as "512B".
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}

	div, exp := float64(unit), 0
	for n := float64(bytes) / unit; n >= unit && exp < len(gnuSuffixes)-1; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%c", float64(bytes)/div, gnuSuffixes[exp])
}
