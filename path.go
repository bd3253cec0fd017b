package zk

import (
	"strings"
	"unicode/utf8"
)

// DataSizeLimit is the largest znode payload accepted by the client.
const DataSizeLimit = 1048576

// ValidatePath validates a znode path. A trailing slash is allowed for
// sequential nodes since the server appends the sequence number.
func ValidatePath(path string, isSequential bool) error {
	if path == "" {
		return ErrInvalidPath
	}

	if path[0] != '/' {
		return ErrInvalidPath
	}

	n := len(path)
	if n == 1 {
		// path is just the root
		return nil
	}

	if !isSequential && path[n-1] == '/' {
		return ErrInvalidPath
	}

	// Start at rune 1 since we already know that the first character is '/'.
	for i, w := 1, 0; i < n; i += w {
		r, width := utf8.DecodeRuneInString(path[i:])
		switch {
		case r == '\u0000':
			return ErrInvalidPath
		case r == '/':
			last, _ := utf8.DecodeLastRuneInString(path[:i])
			if last == '/' {
				return ErrInvalidPath
			}
		case r == '.':
			last, lastWidth := utf8.DecodeLastRuneInString(path[:i])

			// Check for double dot
			if last == '.' {
				last, _ = utf8.DecodeLastRuneInString(path[:i-lastWidth])
			}

			if last == '/' {
				if i+1 == n {
					return ErrInvalidPath
				}

				next, _ := utf8.DecodeRuneInString(path[i+width:])
				if next == '/' {
					return ErrInvalidPath
				}
			}
		case r >= '\u0000' && r <= '\u001f',
			r >= '\u007f' && r <= '\u009f',
			r >= '\uf8ff' && r <= '\uf8ff',
			r >= '\ufff0' && r < '\uffff':
			return ErrInvalidPath
		}
		w = width
	}
	return nil
}

// parentPaths returns every proper prefix of path from the top down,
// followed by path itself.
func parentPaths(path string) []string {
	if path == "/" {
		return nil
	}
	parts := strings.Split(path[1:], "/")
	result := make([]string, 0, len(parts))
	current := ""
	for _, part := range parts {
		current += "/" + part
		result = append(result, current)
	}
	return result
}
