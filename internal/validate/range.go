package validate

import (
	"strconv"
	"strings"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
)

// ParseItemRange parses a playlist item-range filter like "1-10,15" into the
// set of 1-based item indices it denotes (an unordered map). spec.md §4.J names the
// grammar by example without defining it; this is the smallest grammar that
// covers comma-separated single indices and inclusive dash ranges.
func ParseItemRange(spec string) (map[int]bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	items := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx > 0 {
			lo, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, apierr.New(apierr.Validation, "invalid item range: "+part)
			}
			hi, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, apierr.New(apierr.Validation, "invalid item range: "+part)
			}
			if lo < 1 || hi < lo {
				return nil, apierr.New(apierr.Validation, "invalid item range: "+part)
			}
			for i := lo; i <= hi; i++ {
				items[i] = true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, apierr.New(apierr.Validation, "invalid item index: "+part)
		}
		items[n] = true
	}
	return items, nil
}
