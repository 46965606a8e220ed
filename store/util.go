package store

import "strconv"

func parseInt(s string, out *int64) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*out = v
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
